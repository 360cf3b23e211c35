// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
database.go - connection pool management

Connection Pool Configuration:
  - MaxOpenConns: 25, matching the connection budget for a single
    replica running QueueStore workers + SessionPoller + maintenance
  - MaxIdleConns: 5
  - ConnMaxLifetime: 1 hour, to prevent stale connections
  - ConnMaxIdleTime: 5 minutes, to reclaim idle connections

Every transaction opened via WithTx begins with a local statement
timeout (spec.md §5): a stalled query aborts its own transaction
instead of holding a connection indefinitely.
*/
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sjorge/streamystats/internal/apperr"
	"github.com/sjorge/streamystats/internal/config"
)

// DB wraps a pgx connection pool with the statement-timeout and
// error-classification discipline every subsystem shares.
type DB struct {
	Pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// Open establishes the connection pool per cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DB{Pool: pool, statementTimeout: timeout}, nil
}

// Close releases all pooled connections.
func (db *DB) Close() {
	db.Pool.Close()
}

// WithTx runs fn inside a transaction that begins with
// SET LOCAL statement_timeout, committing on success and rolling back
// on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ms := db.statementTimeout.Milliseconds()
	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Classify maps a pgx/Postgres error onto the shared error taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Classify(apperr.ErrCancelled, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Classify(apperr.ErrSingletonCollision, err)
		case "57014": // query_canceled (statement_timeout)
			return apperr.Classify(apperr.ErrDBStall, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apperr.Classify(apperr.ErrDBStall, err)
		}
	}

	if isConnectionError(err) {
		return apperr.Classify(apperr.ErrDBStall, err)
	}

	return apperr.Classify(apperr.ErrQueueInternal, err)
}

// isConnectionError reports whether err indicates a dropped connection
// rather than a query-level failure.
func isConnectionError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"conn closed",
		"pool is closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsNoRows reports whether err is pgx.ErrNoRows, the sentinel every
// scan helper in this module checks for a "not found" result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
