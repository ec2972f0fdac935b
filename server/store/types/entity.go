package types

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Field describes one declared attribute of an entity.
type Field struct {
	Name     string
	Required bool
	// Check validates a present value. Nil accepts any value.
	Check func(value string) error
}

// Validate checks a single value against the field declaration. The ok flag
// tells if the attribute is present at all.
func (f Field) Validate(value string, ok bool) error {
	if !ok {
		if f.Required {
			return &ValidationError{Field: f.Name, Reason: "cannot be null"}
		}
		return nil
	}
	if f.Check == nil {
		return nil
	}
	if err := f.Check(value); err != nil {
		return &ValidationError{Field: f.Name, Reason: err.Error()}
	}
	return nil
}

// Schema is the ordered field table of an entity type.
type Schema []Field

// Validate runs every declared field over the attributes, supplied or not, and
// returns the first failure.
func (s Schema) Validate(a Attrs) error {
	for _, f := range s {
		v, ok := a[f.Name]
		if err := f.Validate(v, ok); err != nil {
			return err
		}
	}
	return nil
}

// Has reports if the name is one of the declared fields.
func (s Schema) Has(name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

func checkNotEmpty(value string) error {
	if value == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

func checkInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return errors.New("number expected, got: " + value)
	}
	if n < 0 {
		return errors.New("non-negative number expected, got: " + value)
	}
	return nil
}

func checkURL(value string) error {
	u, err := url.ParseRequestURI(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("well-formed URL expected, got: " + value)
	}
	return nil
}

func checkBool(value string) error {
	if _, err := ParseBool(value); err != nil {
		return err
	}
	return nil
}

// ParseBool accepts only "true" and "false" in any letter case.
func ParseBool(value string) (bool, error) {
	switch {
	case strings.EqualFold(value, "true"):
		return true, nil
	case strings.EqualFold(value, "false"):
		return false, nil
	}
	return false, errors.New("boolean expected, got: " + value)
}

// FormatBool is the canonical stored form of a boolean.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
