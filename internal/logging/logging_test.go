package logging

import "testing"

func TestNew(t *testing.T) {
	log, err := New("debug", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatalf("debug level should be enabled")
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}
