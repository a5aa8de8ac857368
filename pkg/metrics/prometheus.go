package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records evaluation metrics in Prometheus.
type Recorder struct {
	symbolResults *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runSymbols    *prometheus.GaugeVec
	runDuration   prometheus.Histogram
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		symbolResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_symbol_results_total",
				Help: "Symbol verdicts by status",
			},
			[]string{"status"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_validation_cache_lookups_total",
				Help: "Validation cache lookups by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_errors_total",
				Help: "Errors encountered by kind",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_runs_total",
				Help: "Completed runs by final state",
			},
			[]string{"state"},
		),
		runSymbols: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalgate_last_run_symbols",
				Help: "Symbols per status in the last run",
			},
			[]string{"status"},
		),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_run_duration_seconds",
			Help:    "Wall time of a run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// RecordSymbolResult counts one symbol verdict.
func (r *Recorder) RecordSymbolResult(status string) {
	r.symbolResults.WithLabelValues(status).Inc()
}

// RecordCacheLookup counts a validation cache hit or miss.
func (r *Recorder) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordRunTotals records a finished run. counts replaces the previous run's gauge.
func (r *Recorder) RecordRunTotals(state string, counts map[string]int, d time.Duration) {
	r.runsTotal.WithLabelValues(state).Inc()
	r.runSymbols.Reset()
	for status, n := range counts {
		r.runSymbols.WithLabelValues(status).Set(float64(n))
	}
	r.runDuration.Observe(d.Seconds())
}
