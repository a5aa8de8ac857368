package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/indicators"
	pkgch "SignalGate/pkg/clickhouse"
	"SignalGate/pkg/logger"
)

// CHIndicatorProvider reads snapshots from a long-format ClickHouse table
// (symbol, timeframe, candle_time, name, value) filled by the indicator job.
type CHIndicatorProvider struct {
	db     *sql.DB
	table  string
	policy indicators.RetryPolicy
	log    *logger.Logger
}

func NewCHIndicatorProvider(ch *pkgch.Client, table string, policy indicators.RetryPolicy, log *logger.Logger) *CHIndicatorProvider {
	return &CHIndicatorProvider{db: ch.DB(), table: table, policy: policy, log: log}
}

// IndicatorSchema is the DDL of the snapshot table.
func IndicatorSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol      LowCardinality(String),
            timeframe   LowCardinality(String),
            candle_time DateTime,
            name        LowCardinality(String),
            value       Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, timeframe, candle_time, name)
    `, table)}
}

type snapshotRow struct {
	Timeframe  string
	CandleTime time.Time
	Name       string
	Value      float64
}

// GetIndicators returns, per tf, the newest candle closed at asOf.
func (p *CHIndicatorProvider) GetIndicators(ctx context.Context, symbol string, tfs []models.Timeframe, asOf time.Time) (map[models.Timeframe]*models.IndicatorSnapshot, error) {
	if len(tfs) == 0 {
		return map[models.Timeframe]*models.IndicatorSnapshot{}, nil
	}
	q, args := buildSnapshotQuery(p.table, symbol, tfs, asOf)

	var rows []snapshotRow
	err := indicators.Do(ctx, p.policy, func(ctx context.Context) error {
		var qerr error
		rows, qerr = p.query(ctx, q, args)
		return qerr
	})
	if err != nil {
		p.log.Error("clickhouse get_indicators error",
			logger.String("table", p.table),
			logger.String("symbol", symbol),
			logger.Error(err),
		)
		return nil, fmt.Errorf("get indicators %s: %w", symbol, err)
	}
	return assembleSnapshots(symbol, rows), nil
}

func (p *CHIndicatorProvider) query(ctx context.Context, q string, args []any) ([]snapshotRow, error) {
	rs, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", unavailable(ctx, err))
	}
	defer rs.Close()

	out := make([]snapshotRow, 0, 64)
	for rs.Next() {
		var r snapshotRow
		if err := rs.Scan(&r.Timeframe, &r.CandleTime, &r.Name, &r.Value); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", unavailable(ctx, err))
	}
	return out, nil
}

// unavailable marks driver failures retryable unless the caller gave up.
func unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return &indicators.ProviderError{Kind: domrepo.ErrProviderUnavailable, Err: err}
}

// buildSnapshotQuery bounds every timeframe by the open of its last closed
// candle at asOf, so a candle still forming is never read.
func buildSnapshotQuery(table, symbol string, tfs []models.Timeframe, asOf time.Time) (string, []any) {
	bounds := strings.TrimSuffix(strings.Repeat("(timeframe = ? AND candle_time <= ?) OR ", len(tfs)), " OR ")
	const qtpl = `
        SELECT timeframe, candle_time, name, value
        FROM %[1]s FINAL
        WHERE symbol = ? AND (timeframe, candle_time) IN (
            SELECT timeframe, max(candle_time)
            FROM %[1]s
            WHERE symbol = ? AND (%[2]s)
            GROUP BY timeframe
        )
    `
	args := make([]any, 0, 2*len(tfs)+2)
	args = append(args, symbol, symbol)
	for _, tf := range tfs {
		args = append(args, string(tf), tf.LastClosedOpen(asOf.UTC()))
	}
	return fmt.Sprintf(qtpl, table, bounds), args
}

func assembleSnapshots(symbol string, rows []snapshotRow) map[models.Timeframe]*models.IndicatorSnapshot {
	out := make(map[models.Timeframe]*models.IndicatorSnapshot)
	for _, r := range rows {
		tf := models.Timeframe(r.Timeframe)
		s, ok := out[tf]
		if !ok {
			s = &models.IndicatorSnapshot{
				Symbol:     symbol,
				Timeframe:  tf,
				CandleTime: r.CandleTime.UTC(),
				Values:     make(map[string]float64),
			}
			out[tf] = s
		}
		s.Values[r.Name] = r.Value
	}
	return out
}
