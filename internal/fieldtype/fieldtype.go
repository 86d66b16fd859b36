// Package fieldtype implements the tagged value variant shared by plan fields
// and SNIES template fields. Every stored response carries its declared type
// so consolidation never has to guess what a value is.
package fieldtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Type is the declared data type of a dynamic field.
type Type string

const (
	Numeric    Type = "numeric"
	ShortText  Type = "short_text"
	LongText   Type = "long_text"
	Dropdown   Type = "dropdown"
	File       Type = "file"
	Link       Type = "link"
	Structural Type = "structural"
)

const (
	maxShortText = 255
	maxLongText  = 20000
)

var allTypes = []Type{Numeric, ShortText, LongText, Dropdown, File, Link, Structural}

// Parse validates a type name. "text" is accepted as an alias of short_text
// because plan type configs written before the split still use it.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "text" {
		return ShortText, nil
	}
	for _, t := range allTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// Valid reports whether t is one of the known variants.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// HoldsValue is false for structural fields (section headers and similar),
// which never carry a response.
func (t Type) HoldsValue() bool {
	return t != Structural
}

// Spec is the validation surface of a field: its type plus the options a
// dropdown may take.
type Spec struct {
	Type    Type
	Options []string
}

// Value is one typed response. Exactly one of Number or Text is meaningful,
// selected by Type.
type Value struct {
	Type   Type     `json:"type"`
	Number *float64 `json:"number,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// NumberValue builds a numeric value.
func NumberValue(v float64) Value {
	return Value{Type: Numeric, Number: &v}
}

// TextValue builds a value for one of the text-carrying variants.
func TextValue(t Type, s string) Value {
	return Value{Type: t, Text: s}
}

// MismatchError reports a value that does not satisfy its field spec.
type MismatchError struct {
	Expected Type
	Got      Type
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("field expects %s: %s", e.Expected, e.Reason)
	}
	return fmt.Sprintf("field expects %s, got %s", e.Expected, e.Got)
}

// ErrMismatch is matched by every MismatchError via errors.Is.
var ErrMismatch = errors.New("field type mismatch")

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// Check validates v against spec without coercing anything.
func (v Value) Check(spec Spec) error {
	fail := func(reason string) error {
		return &MismatchError{Expected: spec.Type, Got: v.Type, Reason: reason}
	}
	if !spec.Type.HoldsValue() {
		return fail("structural fields do not accept values")
	}
	if v.Type != spec.Type {
		return &MismatchError{Expected: spec.Type, Got: v.Type}
	}
	switch spec.Type {
	case Numeric:
		if v.Number == nil {
			return fail("missing number")
		}
		if math.IsNaN(*v.Number) || math.IsInf(*v.Number, 0) {
			return fail("number must be finite")
		}
		if v.Text != "" {
			return fail("numeric value carries text")
		}
		return nil
	}
	if v.Number != nil {
		return fail("text value carries a number")
	}
	switch spec.Type {
	case ShortText:
		if strings.ContainsAny(v.Text, "\r\n") {
			return fail("short text must be a single line")
		}
		if utf8.RuneCountInString(v.Text) > maxShortText {
			return fail(fmt.Sprintf("longer than %d characters", maxShortText))
		}
	case LongText:
		if utf8.RuneCountInString(v.Text) > maxLongText {
			return fail(fmt.Sprintf("longer than %d characters", maxLongText))
		}
	case Dropdown:
		if len(spec.Options) > 0 && !contains(spec.Options, v.Text) {
			return fail(fmt.Sprintf("%q is not an allowed option", v.Text))
		}
	case File:
		if strings.TrimSpace(v.Text) == "" {
			return fail("missing file reference")
		}
	case Link:
		u, err := url.Parse(v.Text)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fail(fmt.Sprintf("%q is not an http(s) link", v.Text))
		}
	}
	return nil
}

// Empty reports whether the value carries no answer.
func (v Value) Empty() bool {
	if v.Type == Numeric {
		return v.Number == nil
	}
	return strings.TrimSpace(v.Text) == ""
}

// String renders the value for tabular output.
func (v Value) String() string {
	if v.Type == Numeric {
		if v.Number == nil {
			return ""
		}
		return fmt.Sprintf("%g", *v.Number)
	}
	return v.Text
}

// Encode serialises v for storage.
func (v Value) Encode() (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored value. The type tag is required.
func Decode(raw string) (Value, error) {
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Value{}, fmt.Errorf("decode field value: %w", err)
	}
	if !v.Type.Valid() {
		return Value{}, fmt.Errorf("decode field value: unknown type %q", v.Type)
	}
	return v, nil
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
