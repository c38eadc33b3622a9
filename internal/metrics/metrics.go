// Package metrics exposes Prometheus instruments for the feed loop and the
// HTTP endpoints serving them.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes.
const (
	OutcomePublished = "published"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeDryRun    = "dry_run"
)

// Metrics groups the instruments updated by the orchestrator. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	SourceFetchesTotal *prometheus.CounterVec
	PublishedFields    prometheus.Gauge
	PostingsAvailable  prometheus.Gauge
	MaxFee             prometheus.Gauge
	SplitsTotal        prometheus.Counter

	lastSuccess atomic.Int64
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafeed_cycles_total",
				Help: "Total number of feed cycles by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "datafeed_cycle_duration_seconds",
				Help:    "Duration of feed cycles",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
			},
		),
		SourceFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datafeed_source_fetches_total",
				Help: "Total number of source fetches by status",
			},
			[]string{"source", "status"},
		),
		PublishedFields: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datafeed_published_fields",
				Help: "Number of fields in the last published record",
			},
		),
		PostingsAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datafeed_postings_available",
				Help: "Estimated number of postings the identity can still fund",
			},
		),
		MaxFee: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datafeed_max_fee_bytes",
				Help: "Largest fee observed for a posting",
			},
		),
		SplitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "datafeed_output_splits_total",
				Help: "Total number of postings that split an output",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.CyclesTotal,
			m.CycleDuration,
			m.SourceFetchesTotal,
			m.PublishedFields,
			m.PostingsAvailable,
			m.MaxFee,
			m.SplitsTotal,
		)
	}
	return m
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(duration.Seconds())
	if outcome != OutcomeFailed {
		m.lastSuccess.Store(time.Now().Unix())
	}
}

// RecordSourceFetch records the result of one source fetch.
func (m *Metrics) RecordSourceFetch(source string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SourceFetchesTotal.WithLabelValues(source, status).Inc()
}

// RecordPublication records a submitted record.
func (m *Metrics) RecordPublication(fields int, maxFee int64) {
	if m == nil {
		return
	}
	m.PublishedFields.Set(float64(fields))
	m.MaxFee.Set(float64(maxFee))
}

// RecordProvisioning records the capacity estimate of a plan.
func (m *Metrics) RecordProvisioning(available int, split bool) {
	if m == nil {
		return
	}
	m.PostingsAvailable.Set(float64(available))
	if split {
		m.SplitsTotal.Inc()
	}
}

// LastSuccess is the time of the last cycle that did not fail.
func (m *Metrics) LastSuccess() time.Time {
	if m == nil {
		return time.Time{}
	}
	sec := m.lastSuccess.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
