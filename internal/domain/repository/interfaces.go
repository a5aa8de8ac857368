package repository

import (
	"context"
	"errors"
	"time"

	"SignalGate/internal/domain/models"
)

var (
	// ErrRateLimited marks a provider response equivalent to HTTP 429.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrProviderUnavailable marks transient provider failures (timeouts, 5xx).
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// IndicatorProvider supplies precomputed indicator snapshots. A timeframe with no
// data is simply absent from the returned map.
type IndicatorProvider interface {
	GetIndicators(ctx context.Context, symbol string, tfs []models.Timeframe, asOf time.Time) (map[models.Timeframe]*models.IndicatorSnapshot, error)
}

// PositionProvider exposes exchange exposure for pre-filtering. An empty symbol
// means all symbols.
type PositionProvider interface {
	GetOpenPositions(ctx context.Context, symbol string) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
}

// DecisionSink receives tradable verdicts. Delivery is fire-and-forget.
type DecisionSink interface {
	Publish(ctx context.Context, d models.TradeDecision) error
	Close() error
}

// AuditStore persists audit rows and last-known timeframe state.
type AuditStore interface {
	AppendAudit(ctx context.Context, records []models.AuditRecord) error
	UpsertStates(ctx context.Context, states []models.StateRecord) error
	Health(ctx context.Context) error
}

type Metrics interface {
	RecordSymbolResult(status string)
	RecordCacheLookup(hit bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordRun(summary *models.RunSummary)
}
