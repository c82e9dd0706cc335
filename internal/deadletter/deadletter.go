// Package deadletter is a small optional Postgres-backed record of
// requests that kept failing before their deadline, for operator
// visibility only. It has no bearing on the request log's state machine —
// DynamoDB remains the system of record (spec §6) — and is itself a
// no-op when unconfigured: absence of a DSN simply disables it.
package deadletter

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// db is the subset of *pgxpool.Pool this package calls, narrowed so unit
// tests can fake it without a running Postgres instance.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store records dead-lettered requests. A nil Store (returned by Open when
// dsn is empty) makes every method a no-op, so callers never need to branch
// on whether the feature is enabled.
type Store struct {
	pool *pgxpool.Pool
	db   db
}

// Open connects to dsn and runs migrations. If dsn is empty, Open returns a
// nil *Store and a nil error: the feature is disabled, per
// DEADLETTER_DSN's documented "unset means no-op" contract.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to dead-letter store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping dead-letter store: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate dead-letter store: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

func runMigrations(dsn string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Record upserts a dead-letter row for requestID: attempt_count increments
// and last_seen_at/last_kind are overwritten on every call, so repeated
// failures of the same request accumulate in place rather than
// multiplying rows. A nil Store makes this a no-op.
func (s *Store) Record(ctx context.Context, requestID, lastKind string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO dead_letters (request_id, last_kind, attempt_count, last_seen_at)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (request_id) DO UPDATE SET
		   last_kind = EXCLUDED.last_kind,
		   attempt_count = dead_letters.attempt_count + 1,
		   last_seen_at = EXCLUDED.last_seen_at`,
		requestID, lastKind, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record dead letter for %s: %w", requestID, err)
	}
	return nil
}

// Close releases the underlying connection pool. A nil Store makes this a
// no-op.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
