// SPDX-License-Identifier: MPL-2.0

// Package props validates string-keyed adaptor properties against a set of
// typed descriptors and exposes them as typed values.
package props

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	// TypeString accepts any value.
	TypeString Type = iota
	// TypeBoolean accepts values understood by strconv.ParseBool.
	TypeBoolean
	// TypeInteger accepts 32-bit signed integers.
	TypeInteger
	// TypeNatural accepts non-negative 64-bit integers.
	TypeNatural
	// TypeLong accepts 64-bit signed integers.
	TypeLong
	// TypeDouble accepts floating point numbers.
	TypeDouble
)

var (
	// ErrUnknownProperty is the sentinel error wrapped by UnknownPropertyError.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrInvalidProperty is the sentinel error wrapped by InvalidPropertyError.
	ErrInvalidProperty = errors.New("invalid property")
)

type (
	// Type is the value type of a property.
	Type int

	// Description declares one recognized property.
	Description struct {
		Name    string
		Type    Type
		Default string
		Doc     string
	}

	// Properties is a validated, immutable property bag.
	Properties struct {
		descs  map[string]Description
		values map[string]string
	}

	// UnknownPropertyError is returned when a property name has no descriptor.
	UnknownPropertyError struct {
		Name string
	}

	// InvalidPropertyError is returned when a property value does not match
	// the type of its descriptor.
	InvalidPropertyError struct {
		Name  string
		Value string
		Type  Type
		Cause error
	}
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeNatural:
		return "natural"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Error implements the error interface.
func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("unknown property %q", e.Name)
}

// Unwrap returns ErrUnknownProperty for errors.Is() compatibility.
func (e *UnknownPropertyError) Unwrap() error { return ErrUnknownProperty }

// Error implements the error interface.
func (e *InvalidPropertyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("property %q: value %q is not a valid %s: %v", e.Name, e.Value, e.Type, e.Cause)
	}
	return fmt.Sprintf("property %q: value %q is not a valid %s", e.Name, e.Value, e.Type)
}

// Unwrap returns ErrInvalidProperty for errors.Is() compatibility.
func (e *InvalidPropertyError) Unwrap() error { return ErrInvalidProperty }

// New validates values against descs. Every key of values must be described,
// and every value (including defaults) must parse as its declared type.
func New(descs []Description, values map[string]string) (*Properties, error) {
	p := &Properties{
		descs:  make(map[string]Description, len(descs)),
		values: make(map[string]string, len(values)),
	}

	for _, d := range descs {
		if d.Default != "" {
			if err := check(d, d.Default); err != nil {
				return nil, err
			}
		}
		p.descs[d.Name] = d
	}

	for _, name := range slices.Sorted(maps.Keys(values)) {
		d, ok := p.descs[name]
		if !ok {
			return nil, &UnknownPropertyError{Name: name}
		}
		if err := check(d, values[name]); err != nil {
			return nil, err
		}
		p.values[name] = values[name]
	}

	return p, nil
}

func check(d Description, value string) error {
	var err error
	switch d.Type {
	case TypeString:
		return nil
	case TypeBoolean:
		_, err = cast.ToBoolE(value)
	case TypeInteger:
		var n int64
		n, err = cast.ToInt64E(strings.TrimSpace(value))
		if err == nil && (n < math.MinInt32 || n > math.MaxInt32) {
			err = errors.New("out of 32-bit range")
		}
	case TypeNatural:
		var n int64
		n, err = cast.ToInt64E(strings.TrimSpace(value))
		if err == nil && n < 0 {
			err = errors.New("must not be negative")
		}
	case TypeLong:
		_, err = cast.ToInt64E(strings.TrimSpace(value))
	case TypeDouble:
		_, err = cast.ToFloat64E(strings.TrimSpace(value))
	default:
		err = fmt.Errorf("unsupported type %s", d.Type)
	}
	if err != nil {
		return &InvalidPropertyError{Name: d.Name, Value: value, Type: d.Type, Cause: err}
	}
	return nil
}

// raw returns the explicit value of name, falling back to its default.
func (p *Properties) raw(name string) (string, Description, error) {
	d, ok := p.descs[name]
	if !ok {
		return "", Description{}, &UnknownPropertyError{Name: name}
	}
	if v, ok := p.values[name]; ok {
		return v, d, nil
	}
	return d.Default, d, nil
}

// IsSet reports whether name was given explicitly.
func (p *Properties) IsSet(name string) bool {
	_, ok := p.values[name]
	return ok
}

// String returns the value of name as a string.
func (p *Properties) String(name string) (string, error) {
	v, _, err := p.raw(name)
	return v, err
}

// Bool returns the value of name as a boolean.
func (p *Properties) Bool(name string) (bool, error) {
	v, d, err := p.raw(name)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, &InvalidPropertyError{Name: name, Value: v, Type: d.Type, Cause: err}
	}
	return b, nil
}

// Int64 returns the value of name as a 64-bit integer.
func (p *Properties) Int64(name string) (int64, error) {
	v, d, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToInt64E(strings.TrimSpace(v))
	if err != nil {
		return 0, &InvalidPropertyError{Name: name, Value: v, Type: d.Type, Cause: err}
	}
	return n, nil
}

// Millis returns the value of name interpreted as a number of milliseconds.
func (p *Properties) Millis(name string) (time.Duration, error) {
	n, err := p.Int64(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Filter returns the explicitly set values whose name starts with prefix.
// Names are kept whole so the result can be validated by another descriptor set.
func (p *Properties) Filter(prefix string) map[string]string {
	out := make(map[string]string)
	for name, v := range p.values {
		if strings.HasPrefix(name, prefix) {
			out[name] = v
		}
	}
	return out
}

// Values returns a copy of the explicitly set values.
func (p *Properties) Values() map[string]string {
	return maps.Clone(p.values)
}

// Descriptions returns the recognized descriptors sorted by name.
func (p *Properties) Descriptions() []Description {
	out := slices.Collect(maps.Values(p.descs))
	slices.SortFunc(out, func(a, b Description) int { return strings.Compare(a.Name, b.Name) })
	return out
}
