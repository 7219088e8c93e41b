// Package history implements engine.HistoryLog against Postgres (the
// primary sink) and a local JSONL file (the fallback when no DSN is
// configured), mirroring the teacher's storage/postgres and
// storage/jsonl split between a durable metrics store and a
// zero-dependency local one.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

// PostgresLog appends rebalance history events to a Postgres table.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to dsn. Callers are expected to have already
// applied the rebalance_history schema migration.
func NewPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("history: postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect postgres: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

// Close releases the connection pool.
func (l *PostgresLog) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Append implements engine.HistoryLog.
func (l *PostgresLog) Append(ctx context.Context, event engine.HistoryEvent) error {
	bandsJSON, err := json.Marshal(event.Bands)
	if err != nil {
		return fmt.Errorf("history: marshal bands: %w", err)
	}
	txHashesJSON, err := json.Marshal(event.TxHashes)
	if err != nil {
		return fmt.Errorf("history: marshal tx hashes: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO rebalance_history (
			pool_id, kind, direction, tx_hashes, bands, correlation_id, occurred_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.PoolID,
		string(event.Kind),
		event.Direction,
		txHashesJSON,
		bandsJSON,
		event.CorrelationID,
		event.OccurredAtMs,
	)
	if err != nil {
		return fmt.Errorf("history: insert event: %w", err)
	}
	return nil
}
