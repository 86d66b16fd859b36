package fieldtype

import (
	"errors"
	"math"
	"testing"
)

func TestCheckRejectsTypeMismatch(t *testing.T) {
	v := TextValue(ShortText, "12")
	err := v.Check(Spec{Type: Numeric})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestCheckPerVariant(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		spec Spec
		ok   bool
	}{
		{"numeric", NumberValue(4.5), Spec{Type: Numeric}, true},
		{"numeric nan", NumberValue(math.NaN()), Spec{Type: Numeric}, false},
		{"numeric missing", Value{Type: Numeric}, Spec{Type: Numeric}, false},
		{"short text", TextValue(ShortText, "ok"), Spec{Type: ShortText}, true},
		{"short text newline", TextValue(ShortText, "a\nb"), Spec{Type: ShortText}, false},
		{"long text newline", TextValue(LongText, "a\nb"), Spec{Type: LongText}, true},
		{"dropdown option", TextValue(Dropdown, "B"), Spec{Type: Dropdown, Options: []string{"A", "B"}}, true},
		{"dropdown unknown", TextValue(Dropdown, "C"), Spec{Type: Dropdown, Options: []string{"A", "B"}}, false},
		{"link", TextValue(Link, "https://example.edu/x"), Spec{Type: Link}, true},
		{"link bad scheme", TextValue(Link, "ftp://example.edu"), Spec{Type: Link}, false},
		{"file", TextValue(File, "https://files/x.pdf"), Spec{Type: File}, true},
		{"file empty", TextValue(File, " "), Spec{Type: File}, false},
		{"structural", TextValue(Structural, "x"), Spec{Type: Structural}, false},
	}
	for _, tc := range cases {
		err := tc.v.Check(tc.spec)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestDecodeRequiresTypeTag(t *testing.T) {
	if _, err := Decode(`{"text":"x"}`); err == nil {
		t.Fatalf("expected error for untyped value")
	}
	v, err := Decode(`{"type":"numeric","number":3}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.String() != "3" {
		t.Fatalf("unexpected rendering %q", v.String())
	}
}

func TestParseAlias(t *testing.T) {
	got, err := Parse("Text")
	if err != nil || got != ShortText {
		t.Fatalf("expected short_text alias, got %v %v", got, err)
	}
	if _, err := Parse("blob"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
