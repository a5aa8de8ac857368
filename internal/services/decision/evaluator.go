package decision

import (
	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/rules"
)

// ValidateTimeframe runs the long and short rule sets plus mandatory filters
// for one timeframe. It is pure: the same inputs yield an identical decision.
func ValidateTimeframe(symbol string, tf models.Timeframe, phase models.Phase, p *Profile, snap *models.IndicatorSnapshot) models.TimeframeDecision {
	in := models.DecisionInput{Symbol: symbol, Timeframe: tf, Phase: phase}

	side, ok := p.timeframes[tf]
	if !ok {
		return models.NewInvalidDecision(in, models.ReasonNoConfigForTF)
	}
	if snap == nil {
		return models.NewInvalidDecision(in, models.ReasonNoKlines)
	}
	in.EvaluatedAt = snap.CandleTime.Add(tf.Duration())

	longOK := runSide(&in, side.long, tf, snap, "long")
	shortOK := runSide(&in, side.short, tf, snap, "short")

	switch {
	case !longOK && !shortOK:
		return models.NewInvalidDecision(in, models.ReasonNoLongNoShort)
	case longOK && shortOK:
		return models.NewInvalidDecision(in, models.ReasonLongAndShort)
	}

	filtersOK := true
	for _, f := range p.filters {
		if !runSide(&in, f, tf, snap, "filter") {
			filtersOK = false
		}
	}
	if !filtersOK {
		return models.NewInvalidDecision(in, models.ReasonFiltersFailed)
	}

	if longOK {
		return models.NewValidDecision(in, models.SignalLong)
	}
	return models.NewValidDecision(in, models.SignalShort)
}

func runSide(in *models.DecisionInput, ev rules.Evaluator, tf models.Timeframe, snap *models.IndicatorSnapshot, side string) bool {
	if ev == nil {
		return false
	}
	res := ev(tf, snap)
	passed, failed := rules.Outcomes(res)
	in.RulesPassed = append(in.RulesPassed, passed...)
	in.RulesFailed = append(in.RulesFailed, failed...)
	in.Rules = append(in.Rules, rules.Trace(res, side)...)
	return res.Passed
}
