package rules

import (
	"SignalGate/internal/domain/models"
)

// Walk visits res and every evaluated descendant depth-first.
func Walk(res Result, fn func(Result)) {
	fn(res)
	for _, c := range res.Children {
		Walk(c, fn)
	}
}

// Outcomes splits the named nodes of res into passed and failed names.
// Nodes skipped by short-circuit appear in neither.
func Outcomes(res Result) (passed, failed []string) {
	Walk(res, func(r Result) {
		if r.Name == "" {
			return
		}
		if r.Passed {
			passed = append(passed, r.Name)
		} else {
			failed = append(failed, r.Name)
		}
	})
	return passed, failed
}

// Trace flattens the leaves and named nodes of res for audit.
func Trace(res Result, side string) []models.RuleTrace {
	var out []models.RuleTrace
	Walk(res, func(r Result) {
		if r.Name == "" {
			return
		}
		out = append(out, models.RuleTrace{
			Name:      r.Name,
			Side:      side,
			Passed:    r.Passed,
			Value:     r.Value,
			Threshold: r.Threshold,
			Reason:    string(r.Reason),
		})
	})
	return out
}
