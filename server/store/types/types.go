// Package types defines the records persisted through the attribute store and the
// errors reported by the storage and entity layers.
package types

import (
	"errors"
	"sort"
	"strings"
)

// Attrs is a flat set of named string attributes. Every persisted entity is
// stored as Attrs keyed by the entity's identity.
type Attrs map[string]string

// Clone returns a shallow copy of the attributes.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	c := make(Attrs, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Keys returns attribute names in sorted order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Item is a keyed set of attributes as returned by queries.
type Item struct {
	Key   string
	Attrs Attrs
}

// SortItems orders items by key.
func SortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
}

// Condition guards a conditional write.
//
// Exists=false holds when the named attribute is absent, including when the whole
// item is absent. Exists=true holds when the attribute is present and equal to Value.
type Condition struct {
	Name   string
	Value  string
	Exists bool
}

// Holds evaluates the condition against the current attributes of an item.
func (c *Condition) Holds(current Attrs) bool {
	if c == nil {
		return true
	}
	v, ok := current[c.Name]
	if !c.Exists {
		return !ok
	}
	return ok && v == c.Value
}

// Op is a comparison operator of a filter term.
type Op string

const (
	// OpEq matches attributes equal to the value.
	OpEq Op = "="
	// OpNe matches attributes present and not equal to the value.
	OpNe Op = "!="
	// OpGt matches attributes lexicographically greater than the value.
	OpGt Op = ">"
	// OpLt matches attributes lexicographically less than the value.
	OpLt Op = "<"
	// OpPrefix matches attributes starting with the value.
	OpPrefix Op = "prefix"
)

// Term is one comparison of a filter.
type Term struct {
	Attr  string
	Op    Op
	Value string
}

// Filter is a conjunction of terms. A nil or empty filter matches every item.
// An item lacking the attribute of a term never matches that term.
type Filter struct {
	Terms []Term
}

// Where starts a filter with a single term.
func Where(attr string, op Op, value string) *Filter {
	return (&Filter{}).And(attr, op, value)
}

// And appends a term to the filter and returns the filter.
func (f *Filter) And(attr string, op Op, value string) *Filter {
	f.Terms = append(f.Terms, Term{Attr: attr, Op: op, Value: value})
	return f
}

// IsEmpty reports if the filter has no terms.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.Terms) == 0
}

// Match evaluates the filter against a set of attributes.
func (f *Filter) Match(a Attrs) bool {
	if f.IsEmpty() {
		return true
	}
	for _, t := range f.Terms {
		v, ok := a[t.Attr]
		if !ok {
			return false
		}
		switch t.Op {
		case OpEq:
			ok = v == t.Value
		case OpNe:
			ok = v != t.Value
		case OpGt:
			ok = v > t.Value
		case OpLt:
			ok = v < t.Value
		case OpPrefix:
			ok = strings.HasPrefix(v, t.Value)
		default:
			ok = false
		}
		if !ok {
			return false
		}
	}
	return true
}

// String renders the filter for logging.
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "*"
	}
	parts := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		parts[i] = t.Attr + " " + string(t.Op) + " '" + t.Value + "'"
	}
	return strings.Join(parts, " and ")
}

// ErrConditionFailed is returned by backends when the condition of a conditional
// write does not hold. It is a normal outcome, not a transport failure.
var ErrConditionFailed = errors.New("condition failed")

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	// Op is the store operation, e.g. "put" or "select".
	Op string
	// Table is the table the operation was applied to, if any.
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	msg := "store: " + e.Op
	if e.Table != "" {
		msg += " " + e.Table
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError reports a malformed entity field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid: " + e.Reason
	}
	return "invalid field " + e.Field + ": " + e.Reason
}

// NotFoundError reports a missing configuration entity.
type NotFoundError struct {
	// Kind of the entity, e.g. "BusConfig".
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return "Error looking up " + e.Kind + " " + e.Name
}
