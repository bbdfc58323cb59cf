// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

var (
	ErrOpenFailed = errors.New("db: failed to open database connection")
	ErrMigrate    = errors.New("db: failed to apply migrations")
)

// Open connects to Postgres and pings it, retrying with a linearly growing
// delay so that services restarting together do not hammer the database.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrOpenFailed, err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLife)

	attempts := max(cfg.RetryAttempts, 1)
	var pingErr error
	for i := range attempts {
		pingErr = conn.PingContext(ctx)
		if pingErr == nil {
			log.Info("connected to database")
			return conn, nil
		}
		log.Warn("database ping failed", slog.Int("attempt", i+1), slog.String("error", pingErr.Error()))

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, errors.Join(ErrOpenFailed, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}

	_ = conn.Close()
	return nil, errors.Join(ErrOpenFailed, pingErr)
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics, and committed otherwise.
func WithTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
