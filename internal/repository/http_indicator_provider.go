package repository

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/indicators"
	"SignalGate/pkg/logger"
)

const indicatorsPath = "/v1/indicators"

// HTTPIndicatorProvider fetches precomputed snapshots from an indicator service.
type HTTPIndicatorProvider struct {
	base *indicators.HTTPServiceBase
	log  *logger.Logger
}

func NewHTTPIndicatorProvider(base *indicators.HTTPServiceBase, log *logger.Logger) *HTTPIndicatorProvider {
	return &HTTPIndicatorProvider{base: base, log: log}
}

type snapshotPayload struct {
	Timeframe  string              `json:"timeframe"`
	CandleTime time.Time           `json:"candle_time"`
	Values     map[string]*float64 `json:"values"`
}

type snapshotsResponse struct {
	Symbol    string            `json:"symbol"`
	Snapshots []snapshotPayload `json:"snapshots"`
}

// GetIndicators asks for every tf in one request. Timeframes the service did
// not return, or did not ask for, are left out of the result.
func (p *HTTPIndicatorProvider) GetIndicators(ctx context.Context, symbol string, tfs []models.Timeframe, asOf time.Time) (map[models.Timeframe]*models.IndicatorSnapshot, error) {
	if len(tfs) == 0 {
		return map[models.Timeframe]*models.IndicatorSnapshot{}, nil
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("as_of", asOf.UTC().Format(time.RFC3339))
	for _, tf := range tfs {
		q.Add("tf", string(tf))
	}

	start := time.Now()
	var resp snapshotsResponse
	if err := p.base.GetJSONWithRetry(ctx, indicatorsPath, q, &resp); err != nil {
		return nil, fmt.Errorf("get indicators %s: %w", symbol, err)
	}

	out := decodeSnapshots(symbol, tfs, resp.Snapshots)
	p.log.Debug("indicators fetched",
		logger.String("symbol", symbol),
		logger.Int("requested", len(tfs)),
		logger.Int("returned", len(out)),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func decodeSnapshots(symbol string, tfs []models.Timeframe, payload []snapshotPayload) map[models.Timeframe]*models.IndicatorSnapshot {
	wanted := make(map[models.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		wanted[tf] = true
	}
	out := make(map[models.Timeframe]*models.IndicatorSnapshot, len(payload))
	for _, s := range payload {
		tf := models.Timeframe(s.Timeframe)
		if !wanted[tf] {
			continue
		}
		values := make(map[string]float64, len(s.Values))
		for name, v := range s.Values {
			// null means the indicator is not warmed up yet
			if v != nil {
				values[name] = *v
			}
		}
		out[tf] = &models.IndicatorSnapshot{
			Symbol:     symbol,
			Timeframe:  tf,
			CandleTime: s.CandleTime.UTC(),
			Values:     values,
		}
	}
	return out
}
