package repository

import (
	"context"
	"fmt"
	"net/url"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/indicators"
)

const (
	positionsPath = "/v1/positions"
	ordersPath    = "/v1/orders"
)

// HTTPPositionProvider reads exchange exposure from the account service.
type HTTPPositionProvider struct {
	base *indicators.HTTPServiceBase
}

func NewHTTPPositionProvider(base *indicators.HTTPServiceBase) *HTTPPositionProvider {
	return &HTTPPositionProvider{base: base}
}

func symbolQuery(symbol string) url.Values {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	return q
}

func (p *HTTPPositionProvider) GetOpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	var resp struct {
		Positions []models.Position `json:"positions"`
	}
	if err := p.base.GetJSONWithRetry(ctx, positionsPath, symbolQuery(symbol), &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := resp.Positions[:0]
	for _, pos := range resp.Positions {
		if pos.Quantity != 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (p *HTTPPositionProvider) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var resp struct {
		Orders []models.Order `json:"orders"`
	}
	if err := p.base.GetJSONWithRetry(ctx, ordersPath, symbolQuery(symbol), &resp); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return resp.Orders, nil
}

// NoExposure reports no positions or orders. Used when no account service is configured.
type NoExposure struct{}

func (NoExposure) GetOpenPositions(context.Context, string) ([]models.Position, error) { return nil, nil }
func (NoExposure) GetOpenOrders(context.Context, string) ([]models.Order, error)       { return nil, nil }
