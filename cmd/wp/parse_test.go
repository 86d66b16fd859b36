package main

import (
	"testing"

	"workplan/internal/fieldtype"
)

func TestParseSniesField(t *testing.T) {
	in, err := parseSniesField("modality:Modality:dropdown:2:required:in_person|virtual")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.ID != "modality" || in.DataType != "dropdown" || in.FieldOrder != 2 || !in.Required {
		t.Fatalf("unexpected field %+v", in)
	}
	if len(in.Options) != 2 || in.Options[1] != "virtual" {
		t.Fatalf("unexpected options %v", in.Options)
	}

	in, err = parseSniesField("students:Students:numeric:1")
	if err != nil {
		t.Fatalf("parse plain: %v", err)
	}
	if in.Required || in.Options != nil {
		t.Fatalf("expected optional field without options, got %+v", in)
	}

	for _, bad := range []string{"a:b:numeric", "a:b:numeric:first"} {
		if _, err := parseSniesField(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseFieldValue(t *testing.T) {
	v, err := parseFieldValue("numeric", " 35 ")
	if err != nil {
		t.Fatalf("numeric: %v", err)
	}
	if v.Type != fieldtype.Numeric || v.Number == nil || *v.Number != 35 {
		t.Fatalf("unexpected numeric value %+v", v)
	}
	if _, err := parseFieldValue("numeric", "many"); err == nil {
		t.Fatalf("expected error for non-numeric input")
	}
	v, err = parseFieldValue("text", "hello")
	if err != nil {
		t.Fatalf("text alias: %v", err)
	}
	if v.Type != fieldtype.ShortText || v.Text != "hello" {
		t.Fatalf("unexpected text value %+v", v)
	}
	if _, err := parseFieldValue("color", "red"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestSplitAssignment(t *testing.T) {
	k, v, err := splitAssignment("summary=a=b")
	if err != nil || k != "summary" || v != "a=b" {
		t.Fatalf("got %q %q %v", k, v, err)
	}
	if _, _, err := splitAssignment("=x"); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
