package decision

import (
	"fmt"
	"strings"

	"SignalGate/internal/domain/models"
)

// ValidateContext evaluates every context timeframe and reconciles the results.
func ValidateContext(symbol string, tfs []models.Timeframe, p *Profile, snaps map[models.Timeframe]*models.IndicatorSnapshot) models.ConsensusDecision {
	decisions := make(map[models.Timeframe]models.TimeframeDecision, len(tfs))
	for _, tf := range tfs {
		decisions[tf] = ValidateTimeframe(symbol, tf, models.PhaseContext, p, snaps[tf])
	}
	return ResolveConsensus(p.Mode, tfs, decisions)
}

// ResolveConsensus reconciles already computed context decisions. A decision
// with NO_LONG_NO_SHORT or LONG_AND_SHORT is neutral; any other invalid
// reason rejects.
// The outcome does not depend on the order of tfs.
func ResolveConsensus(mode models.ConsensusMode, tfs []models.Timeframe, decisions map[models.Timeframe]models.TimeframeDecision) models.ConsensusDecision {
	out := models.ConsensusDecision{
		Mode:         mode,
		PerTimeframe: make(map[models.Timeframe]models.TimeframeDecision, len(tfs)),
	}
	if len(tfs) == 0 {
		return reject(out, models.ConsensusNoContextTF)
	}

	var (
		invalid bool
		neutral bool
		sides   = map[models.Signal]struct{}{}
	)
	for _, tf := range tfs {
		d, ok := decisions[tf]
		if !ok {
			invalid = true
			continue
		}
		out.PerTimeframe[tf] = d
		switch {
		case d.Valid:
			sides[d.Signal] = struct{}{}
		case d.Neutral():
			neutral = true
		default:
			invalid = true
		}
	}

	switch {
	case invalid:
		return reject(out, models.ConsensusTFInvalid)
	case len(sides) > 1:
		return reject(out, models.ConsensusSideConflict)
	case len(sides) == 0:
		return reject(out, models.ConsensusAllNeutral)
	case neutral && mode == models.ModeStrict:
		return reject(out, models.ConsensusNeutralNotAllowed)
	}

	for side := range sides {
		out.Bias = side
	}
	out.Valid = true
	return out
}

// ReasonText renders a rejection as "<mode>_context_<reason>".
func ReasonText(mode models.ConsensusMode, reason models.ConsensusReason) string {
	return fmt.Sprintf("%s_context_%s", mode, strings.ToLower(string(reason)))
}

func reject(out models.ConsensusDecision, reason models.ConsensusReason) models.ConsensusDecision {
	out.Valid = false
	out.Reason = reason
	out.ReasonText = ReasonText(out.Mode, reason)
	return out
}
