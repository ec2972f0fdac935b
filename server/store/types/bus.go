package types

import (
	"strconv"
	"strings"
)

// Bus configuration attribute names.
const (
	BusName                   = "BUS_NAME"
	BusRetentionSeconds       = "RETENTION_TIME_SECONDS"
	BusStickyRetentionSeconds = "RETENTION_STICKY_TIME_SECONDS"
)

// BusSchema is the field table of a bus configuration. Attributes not declared
// here are per-user permission grants.
var BusSchema = Schema{
	{Name: BusName, Required: true, Check: checkNotEmpty},
	{Name: BusRetentionSeconds, Required: true, Check: checkInt},
	{Name: BusStickyRetentionSeconds, Check: checkInt},
}

// Permission is a bit of a permission set granted to a user on a bus.
type Permission uint8

// Permission vocabulary.
const (
	PermGetAll Permission = 1 << iota
	PermPost
	PermGetPayload
	PermIdentity

	PermNone Permission = 0
)

var permNames = []struct {
	perm Permission
	name string
}{
	{PermGetAll, "GETALL"},
	{PermPost, "POST"},
	{PermGetPayload, "GETPAYLOAD"},
	{PermIdentity, "IDENTITY"},
}

// ParsePermissions parses a comma-separated list of permission names.
func ParsePermissions(csv string) (Permission, error) {
	var p Permission
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		found := false
		for _, pn := range permNames {
			if pn.name == name {
				p |= pn.perm
				found = true
				break
			}
		}
		if !found {
			return PermNone, &ValidationError{Reason: "unknown permission " + name}
		}
	}
	return p, nil
}

// Has checks if all permissions in want are granted.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// String formats the permission set as a comma-separated list.
func (p Permission) String() string {
	var names []string
	for _, pn := range permNames {
		if p&pn.perm != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// Bus is the configuration of one tenant bus.
type Bus struct {
	attrs Attrs
}

// BusFromAttrs loads and validates a bus configuration.
func BusFromAttrs(a Attrs) (*Bus, error) {
	if err := BusSchema.Validate(a); err != nil {
		return nil, err
	}
	return &Bus{attrs: a.Clone()}, nil
}

// Name is the identity of the bus.
func (b *Bus) Name() string {
	return b.attrs[BusName]
}

// RetentionSeconds is how long regular messages are kept.
func (b *Bus) RetentionSeconds() int {
	n, _ := strconv.Atoi(b.attrs[BusRetentionSeconds])
	return n
}

// StickyRetentionSeconds is how long sticky messages are kept. The second value is
// false when the bus has no separate sticky window.
func (b *Bus) StickyRetentionSeconds() (int, bool) {
	v, ok := b.attrs[BusStickyRetentionSeconds]
	if !ok {
		return 0, false
	}
	n, _ := strconv.Atoi(v)
	return n, true
}

// Permissions returns the permission set granted to the user on this bus.
// User names colliding with bus configuration fields are rejected.
func (b *Bus) Permissions(user string) (Permission, error) {
	if BusSchema.Has(user) {
		return PermNone, &ValidationError{Reason: "invalid user name: " + user}
	}
	return ParsePermissions(b.attrs[user])
}

// Grants lists users with grants on the bus.
func (b *Bus) Grants() map[string]string {
	grants := make(map[string]string)
	for k, v := range b.attrs {
		if !BusSchema.Has(k) {
			grants[k] = v
		}
	}
	return grants
}

// ValidateGrants checks that every grant parses.
func (b *Bus) ValidateGrants() error {
	for user, csv := range b.Grants() {
		if _, err := ParsePermissions(csv); err != nil {
			return &ValidationError{Field: user, Reason: "bad permission list: " + csv}
		}
	}
	return nil
}

// Attrs returns a copy of the stored form.
func (b *Bus) Attrs() Attrs {
	return b.attrs.Clone()
}
