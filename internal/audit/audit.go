// Package audit appends to the append-only operational audit trail.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ActionSubmissionCreated  = "submission_created"
	ActionOdometerFraudAlert = "odometer_fraud_alert"
	ActionCSVImport          = "csv_import"
	ActionBatchImport        = "batch_import"
)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

type Log struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func New(cfg *Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Log{log: cfg.Logger, pool: cfg.Pool}, nil
}

// Entry is one audit record.
type Entry struct {
	Action      string
	TargetTable string
	TargetID    int
	Details     map[string]any
	IP          string
}

// Append writes an entry outside any transaction.
func (l *Log) Append(ctx context.Context, e *Entry) error {
	return l.AppendTx(ctx, l.pool, e)
}

// AppendTx writes an entry using the caller's transaction (or the pool).
func (l *Log) AppendTx(ctx context.Context, db DBTX, e *Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO audit_log (action, target_table, target_id, details, ip_address)
		VALUES ($1, $2, $3, $4, $5)
	`, e.Action, e.TargetTable, e.TargetID, details, e.IP); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
