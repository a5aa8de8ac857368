package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/logger"
)

const (
	auditTable = "signalgate_audit"
	stateTable = "signalgate_tf_state"
	chunkSize  = 2000
)

// BatchWriter is the part of *clickhouse.Client the audit store uses.
type BatchWriter interface {
	InsertBatch(ctx context.Context, query string, rows [][]any) error
	InitSchema(ctx context.Context, stmts []string) error
	Health(ctx context.Context) error
}

// CHAuditStore appends audit rows to a MergeTree table and keeps last-known
// timeframe state in a ReplacingMergeTree keyed by (symbol, timeframe).
type CHAuditStore struct {
	ch  BatchWriter
	log *logger.Logger
}

func NewCHAuditStore(ch BatchWriter, log *logger.Logger) *CHAuditStore {
	return &CHAuditStore{ch: ch, log: log}
}

// AuditSchema is the DDL for both tables.
var AuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + auditTable + ` (
        run_id       String,
        symbol       LowCardinality(String),
        status       LowCardinality(String),
        side         LowCardinality(String),
        execution_tf LowCardinality(String),
        reason       String,
        decisions    String,
        error        String,
        dry_run      UInt8,
        created_at   DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(created_at)
    ORDER BY (symbol, created_at)`,
	`CREATE TABLE IF NOT EXISTS ` + stateTable + ` (
        symbol      LowCardinality(String),
        timeframe   LowCardinality(String),
        phase       LowCardinality(String),
        side        LowCardinality(String),
        valid       UInt8,
        reason      LowCardinality(String),
        candle_time DateTime('UTC'),
        updated_at  DateTime64(3, 'UTC')
    ) ENGINE = ReplacingMergeTree(updated_at)
    ORDER BY (symbol, timeframe)`,
}

// Init creates the tables if missing.
func (s *CHAuditStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, AuditSchema)
}

func (s *CHAuditStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHAuditStore) AppendAudit(ctx context.Context, records []models.AuditRecord) error {
	const q = `INSERT INTO ` + auditTable + ` (run_id, symbol, status, side, execution_tf, reason, decisions, error, dry_run, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		decisions, err := json.Marshal(r.Decisions)
		if err != nil {
			return fmt.Errorf("marshal decisions %s: %w", r.Symbol, err)
		}
		rows = append(rows, []any{
			r.RunID,
			r.Symbol,
			string(r.Status),
			string(r.Side),
			string(r.ExecutionTimeframe),
			r.Reason,
			string(decisions),
			r.Error,
			boolToUInt8(r.DryRun),
			r.CreatedAt.UTC(),
		})
	}
	return s.insertChunked(ctx, "audit", q, rows)
}

func (s *CHAuditStore) UpsertStates(ctx context.Context, states []models.StateRecord) error {
	const q = `INSERT INTO ` + stateTable + ` (symbol, timeframe, phase, side, valid, reason, candle_time, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	rows := make([][]any, 0, len(states))
	for _, st := range states {
		rows = append(rows, []any{
			st.Symbol,
			string(st.Timeframe),
			string(st.Phase),
			string(st.Side),
			boolToUInt8(st.Valid),
			string(st.Reason),
			st.CandleTime.UTC(),
			st.UpdatedAt.UTC(),
		})
	}
	return s.insertChunked(ctx, "state", q, rows)
}

func (s *CHAuditStore) insertChunked(ctx context.Context, kind, q string, rows [][]any) error {
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.ch.InsertBatch(ctx, q, rows[start:end]); err != nil {
			s.log.Error("clickhouse insert error",
				logger.String("kind", kind),
				logger.Int("rows", end-start),
				logger.Error(err),
			)
			return fmt.Errorf("insert %s: %w", kind, err)
		}
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// NopAuditStore discards everything. Used when ClickHouse is disabled.
type NopAuditStore struct{}

func (NopAuditStore) AppendAudit(context.Context, []models.AuditRecord) error  { return nil }
func (NopAuditStore) UpsertStates(context.Context, []models.StateRecord) error { return nil }
func (NopAuditStore) Health(context.Context) error                             { return nil }
