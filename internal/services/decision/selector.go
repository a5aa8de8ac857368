package decision

import (
	"SignalGate/internal/domain/models"
)

const (
	RejectNoDecision   = "no decision"
	RejectSideMismatch = "side mismatch"
	ReasonNoBias       = "NO_CONTEXT_BIAS"
)

// SelectExecution evaluates each execution timeframe and picks the first one
// aligned with the consensus bias.
func SelectExecution(symbol string, tfs []models.Timeframe, p *Profile, snaps map[models.Timeframe]*models.IndicatorSnapshot, consensus models.ConsensusDecision) models.ExecutionSelection {
	decisions := make(map[models.Timeframe]models.TimeframeDecision, len(tfs))
	for _, tf := range tfs {
		decisions[tf] = ValidateTimeframe(symbol, tf, models.PhaseExecution, p, snaps[tf])
	}
	return SelectFrom(symbol, tfs, p.Gates, decisions, snaps, consensus)
}

// SelectFrom runs the cascade over precomputed decisions. tfs must be ordered
// coarse to fine; the first candidate that is valid, matches the bias and
// passes every gate wins.
func SelectFrom(symbol string, tfs []models.Timeframe, gates []Gate, decisions map[models.Timeframe]models.TimeframeDecision, snaps map[models.Timeframe]*models.IndicatorSnapshot, consensus models.ConsensusDecision) models.ExecutionSelection {
	sel := models.ExecutionSelection{
		PerTimeframe: make(map[models.Timeframe]models.TimeframeDecision, len(tfs)),
		Rejections:   make(map[models.Timeframe]string),
	}
	for _, tf := range tfs {
		if d, ok := decisions[tf]; ok {
			sel.PerTimeframe[tf] = d
		}
	}

	if !consensus.Valid || !consensus.Bias.Directional() {
		sel.Reason = ReasonNoBias
		return sel
	}

candidates:
	for _, tf := range tfs {
		d, ok := decisions[tf]
		switch {
		case !ok:
			sel.Rejections[tf] = RejectNoDecision
			continue
		case !d.Valid:
			sel.Rejections[tf] = string(d.InvalidReason)
			continue
		case d.Signal != consensus.Bias:
			sel.Rejections[tf] = RejectSideMismatch
			continue
		}

		in := GateInput{Symbol: symbol, Candidate: tf, Side: consensus.Bias, Snapshots: snaps}
		for _, g := range gates {
			if ok, why := g.Allow(in); !ok {
				sel.Rejections[tf] = g.Name() + ": " + why
				continue candidates
			}
		}

		sel.Timeframe = tf
		sel.Side = consensus.Bias
		return sel
	}

	sel.Reason = models.ReasonNoExecTFAligned
	return sel
}
