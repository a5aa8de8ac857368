package usecase

import (
	"time"

	"SignalGate/internal/domain/models"
)

// summarize builds the run summary. processed counts dispatched symbols only;
// success rate is the share of them that did not end in ERROR.
func summarize(run *models.RunSummary, results map[string]models.SymbolResult, processed int, finished time.Time) {
	run.Counts = map[models.SymbolStatus]int{
		models.StatusReady:   0,
		models.StatusInvalid: 0,
		models.StatusIgnored: 0,
		models.StatusError:   0,
	}
	for _, r := range results {
		run.Counts[r.Status]++
	}
	run.Results = results
	run.SymbolsProcessed = processed
	run.SuccessRate = 0
	if processed > 0 {
		run.SuccessRate = float64(processed-run.Counts[models.StatusError]) / float64(processed)
	}
	run.FinishedAt = finished
	run.Duration = finished.Sub(run.StartedAt)
}

// mergeResult keeps the newer of two results for one symbol.
func mergeResult(into map[string]models.SymbolResult, r models.SymbolResult) bool {
	if prev, ok := into[r.Symbol]; ok && !r.FinishedAt.After(prev.FinishedAt) {
		return false
	}
	into[r.Symbol] = r
	return true
}

// ExitCode maps a summary to the process exit status: 0 on success, 1 when
// any symbol errored or the run was cancelled.
func ExitCode(s *models.RunSummary) int {
	if s == nil || s.State == models.RunCancelled || s.HasErrors() {
		return 1
	}
	return 0
}
