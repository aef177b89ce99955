// Package metrics exposes Prometheus collectors for pipeline runs, geocoding and upserts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sfevents"

// Metrics groups every collector the pipeline reports to.
// All methods are safe for concurrent use and tolerate a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	extracted     prometheus.Counter
	extractWarns  prometheus.Counter
	upserts       *prometheus.CounterVec
	geocodes      *prometheus.CounterVec
	pruned        prometheus.Counter
	triggerDenied prometheus.Counter
}

// New creates a Metrics set registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome (success, failure).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of a full pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pipeline run.",
		}),
		extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_events_total",
			Help:      "Event rows extracted from the listing page.",
		}),
		extractWarns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extract_warnings_total",
			Help:      "Rows skipped or degraded during extraction.",
		}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserted_events_total",
			Help:      "Upserted events by outcome (created, updated, failed).",
		}, []string{"outcome"}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_lookups_total",
			Help:      "Geocode lookups by outcome.",
		}, []string{"outcome"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_events_total",
			Help:      "Events deleted by the retention pass.",
		}),
		triggerDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_rejected_total",
			Help:      "Run requests rejected because a run was already in progress.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.lastSuccess, m.extracted, m.extractWarns,
		m.upserts, m.geocodes, m.pruned, m.triggerDenied,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	if err != nil {
		m.runs.WithLabelValues("failure").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.lastSuccess.SetToCurrentTime()
}

// AddExtracted counts extracted rows and extraction warnings.
func (m *Metrics) AddExtracted(events, warnings int) {
	if m == nil {
		return
	}
	m.extracted.Add(float64(events))
	m.extractWarns.Add(float64(warnings))
}

// IncUpsert counts one upserted record. outcome is created, updated or failed.
func (m *Metrics) IncUpsert(outcome string) {
	if m == nil {
		return
	}
	m.upserts.WithLabelValues(outcome).Inc()
}

// IncGeocode counts one geocode lookup.
func (m *Metrics) IncGeocode(outcome string) {
	if m == nil {
		return
	}
	m.geocodes.WithLabelValues(outcome).Inc()
}

// AddPruned counts deleted events.
func (m *Metrics) AddPruned(n int64) {
	if m == nil {
		return
	}
	m.pruned.Add(float64(n))
}

// IncTriggerRejected counts a rejected run request.
func (m *Metrics) IncTriggerRejected() {
	if m == nil {
		return
	}
	m.triggerDenied.Inc()
}
