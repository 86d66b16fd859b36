package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Transition("plan", "submitted")
	m.Transition("plan", "submitted")
	m.Consolidated("ok", 3)
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("plan", "submitted")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConsolidationIssue); got != 3 {
		t.Fatalf("expected 3 issues, got %v", got)
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "workplan_transitions_total") {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Transition("plan", "approved")
	m.NotifyFailed("x")
	m.VersionConflict()
	m.Consolidated("ok", 1)
	m.FamilyFailed("template")
	m.Request("GET", 200)
}
