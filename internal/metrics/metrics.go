// Package metrics exposes engine counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry           *prometheus.Registry
	Transitions        *prometheus.CounterVec
	NotifyFailures     *prometheus.CounterVec
	VersionConflicts   prometheus.Counter
	Consolidations     *prometheus.CounterVec
	ConsolidationIssue prometheus.Counter
	FamilyFailures     *prometheus.CounterVec
	Requests           *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by entity and target status.",
		}, []string{"entity", "to"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "notification_failures_total",
			Help:      "Notification requests that could not be delivered.",
		}, []string{"template"}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "version_conflicts_total",
			Help:      "Concurrent version inserts that lost the unique index race.",
		}),
		Consolidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "consolidations_total",
			Help:      "SNIES consolidation runs by outcome.",
		}, []string{"outcome"}),
		ConsolidationIssue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "consolidation_issues_total",
			Help:      "Values excluded from consolidation.",
		}),
		FamilyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "unified_family_failures_total",
			Help:      "Report families that failed while building the unified list.",
		}, []string{"family"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workplan",
			Name:      "http_requests_total",
			Help:      "API requests served, by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		m.Transitions, m.NotifyFailures, m.VersionConflicts, m.Consolidations, m.ConsolidationIssue, m.FamilyFailures, m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// The helpers below tolerate a nil receiver so callers never need to check.

func (m *Metrics) Transition(entity, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) NotifyFailed(template string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(template).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.VersionConflicts.Inc()
}

func (m *Metrics) Consolidated(outcome string, issues int) {
	if m == nil {
		return
	}
	m.Consolidations.WithLabelValues(outcome).Inc()
	m.ConsolidationIssue.Add(float64(issues))
}

func (m *Metrics) FamilyFailed(family string) {
	if m == nil {
		return
	}
	m.FamilyFailures.WithLabelValues(family).Inc()
}

func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
