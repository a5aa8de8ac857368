package metrics

import (
	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	pkgmetrics "SignalGate/pkg/metrics"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder adapts the Prometheus recorder to repository.Metrics.
type Recorder struct {
	*pkgmetrics.Recorder
}

func NewRecorder(r *pkgmetrics.Recorder) *Recorder {
	return &Recorder{Recorder: r}
}

// RecordRun records the summary of a finished run.
func (r *Recorder) RecordRun(s *models.RunSummary) {
	if s == nil {
		return
	}
	counts := make(map[string]int, len(s.Counts))
	for status, n := range s.Counts {
		counts[string(status)] = n
	}
	r.RecordRunTotals(string(s.State), counts, s.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSymbolResult(string)     {}
func (Nop) RecordCacheLookup(bool)        {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordRun(*models.RunSummary)  {}
