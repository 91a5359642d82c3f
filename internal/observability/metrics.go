// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "fifo_allocator"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Recompute metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RunsRefused        prometheus.Counter
	AllocationsWritten prometheus.Counter
	UnmatchedSells     prometheus.Counter
	TradesExcluded     *prometheus.CounterVec

	// Side effects after a successful run
	SideEffectErrors *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics registers all metrics with reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "runs_total",
			Help:      "Total number of recompute runs by mode and status",
		}, []string{"mode", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "duration_seconds",
			Help:      "Recompute run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"mode"}),
		RunsRefused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "runs_refused_total",
			Help:      "Runs refused because another run was in progress",
		}),
		AllocationsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "allocations_written_total",
			Help:      "Total number of allocation rows written",
		}),
		UnmatchedSells: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "unmatched_sells_total",
			Help:      "Sells left partly or fully unmatched",
		}),
		TradesExcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "trades_excluded_total",
			Help:      "Ledger rows skipped by the matching engine by reason",
		}, []string{"reason"}),
		SideEffectErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recompute",
			Name:      "side_effect_errors_total",
			Help:      "Failures writing snapshots or publishing notifications",
		}, []string{"kind"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful recompute run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint serving g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordRun records the terminal outcome of a run. m may be nil.
func (m *Metrics) RecordRun(mode, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordAllocation records the output of a successful run.
func (m *Metrics) RecordAllocation(rows, unmatched int, excluded map[string]int, finishedUnix float64) {
	if m == nil {
		return
	}
	m.AllocationsWritten.Add(float64(rows))
	m.UnmatchedSells.Add(float64(unmatched))
	for reason, n := range excluded {
		m.TradesExcluded.WithLabelValues(reason).Add(float64(n))
	}
	m.LastSuccessfulRun.Set(finishedUnix)
}

// RecordRefusal counts a run refused by the computation log.
func (m *Metrics) RecordRefusal() {
	if m == nil {
		return
	}
	m.RunsRefused.Inc()
}

// RecordSideEffectError counts a failed snapshot write or notification.
func (m *Metrics) RecordSideEffectError(kind string) {
	if m == nil {
		return
	}
	m.SideEffectErrors.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest counts a served API request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
