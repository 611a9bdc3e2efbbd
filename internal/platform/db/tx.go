package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("stockledger/db")

type txConfig struct {
	isoLevel    pgx.TxIsoLevel
	lockTimeout time.Duration
	name        string
}

// TxOption customises WithTx.
type TxOption func(*txConfig)

// WithLockTimeout bounds how long statements wait on row locks.
func WithLockTimeout(d time.Duration) TxOption {
	return func(c *txConfig) { c.lockTimeout = d }
}

// WithIsoLevel overrides the default repeatable-read isolation.
func WithIsoLevel(level pgx.TxIsoLevel) TxOption {
	return func(c *txConfig) { c.isoLevel = level }
}

// WithName labels the transaction span.
func WithName(name string) TxOption {
	return func(c *txConfig) { c.name = name }
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error, opts ...TxOption) (err error) {
	cfg := txConfig{isoLevel: pgx.RepeatableRead, name: "db.tx"}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracer.Start(ctx, cfg.name)
	span.SetAttributes(attribute.String("db.isolation", string(cfg.isoLevel)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: cfg.isoLevel})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
