// Package postgres provides the pgx-backed Store used in production. All
// claim statements are single conditional UPDATEs with FOR UPDATE SKIP LOCKED
// candidate selection, so concurrent assignment calls neither block on nor
// double-claim the same account. Transient contention errors are retried here
// with a fixed backoff and never surface to callers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dotagraph/coordinator/internal/store"
)

// Advisory lock id guarding schema bootstrap across processes.
const schemaLockID = int64(0x646f746167726170) // "dotagrap"

const defaultRetryInterval = 500 * time.Millisecond

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// RetryInterval is the fixed backoff between retries of statements that
	// failed with a transient contention error. Defaults to 500ms.
	RetryInterval time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool          pool
	retryInterval time.Duration
}

var _ store.Store = (*Store)(nil)

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(p, cfg.RetryInterval), nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newStore(p, time.Millisecond), nil
}

func newStore(p pool, retryInterval time.Duration) *Store {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &Store{pool: p, retryInterval: retryInterval}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// isTransient reports whether err is a contention error worth retrying:
// serialization failure, deadlock, or lock-wait timeout.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

func (s *Store) backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry interrupted: %w", ctx.Err())
	case <-time.After(s.retryInterval):
		return nil
	}
}

// exec runs a statement, retrying transient contention indefinitely.
func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	for {
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err == nil || !isTransient(err) {
			return tag, err
		}
		if berr := s.backoff(ctx); berr != nil {
			return pgconn.CommandTag{}, berr
		}
	}
}

// queryRowScan runs a single-row query and scans it, retrying transient
// contention. pgx.ErrNoRows passes through to the caller.
func (s *Store) queryRowScan(ctx context.Context, sql string, args []any, dest ...any) error {
	for {
		err := s.pool.QueryRow(ctx, sql, args...).Scan(dest...)
		if err == nil || !isTransient(err) {
			return err
		}
		if berr := s.backoff(ctx); berr != nil {
			return berr
		}
	}
}

// Bootstrap creates the schema and indexes if missing and seeds the root
// account. It takes a transaction-scoped advisory lock so concurrent
// processes sharing the database do not race the DDL.
func (s *Store) Bootstrap(ctx context.Context, rootAccountID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	for _, ddl := range schemaStatements {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if rootAccountID > 0 {
		if _, err := tx.Exec(ctx, `
INSERT INTO accounts (account_id, depth)
VALUES ($1, 0)
ON CONFLICT (account_id) DO NOTHING`, rootAccountID); err != nil {
			return fmt.Errorf("seed root account: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
	account_id BIGINT PRIMARY KEY,
	depth INTEGER,
	assigned_to TEXT,
	assigned_at TIMESTAMPTZ,
	hero_refreshed_at TIMESTAMPTZ,
	hero_done BOOLEAN NOT NULL DEFAULT FALSE,
	discover_done BOOLEAN NOT NULL DEFAULT FALSE,
	seen_count INTEGER NOT NULL DEFAULT 0,
	highest_match_id BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS hero_stats (
	account_id BIGINT NOT NULL,
	hero_id INTEGER NOT NULL,
	matches INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	PRIMARY KEY (account_id, hero_id)
)`,
	`CREATE TABLE IF NOT EXISTS hero_top100 (
	hero_id INTEGER NOT NULL,
	account_id BIGINT NOT NULL,
	matches INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	PRIMARY KEY (hero_id, account_id)
)`,
	`CREATE TABLE IF NOT EXISTS scheduler_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
	// Collect claims walk hero-incomplete unclaimed accounts by id.
	`CREATE INDEX IF NOT EXISTS idx_accounts_collect_queue
	ON accounts (account_id)
	WHERE hero_done = FALSE AND assigned_to IS NULL`,
	// Refresh claims need the oldest refresh stamp among completed accounts.
	`CREATE INDEX IF NOT EXISTS idx_accounts_refresh_queue
	ON accounts (hero_refreshed_at, account_id)
	WHERE hero_done = TRUE AND assigned_to IS NULL`,
	// Discovery claims scan the BFS frontier.
	`CREATE INDEX IF NOT EXISTS idx_accounts_discover_queue
	ON accounts (COALESCE(depth, 0), seen_count DESC, account_id)
	WHERE hero_done = TRUE AND discover_done = FALSE AND assigned_to IS NULL`,
	// The reclaimer filters on assignment age.
	`CREATE INDEX IF NOT EXISTS idx_accounts_assignment_state
	ON accounts (assigned_to, assigned_at)
	WHERE assigned_to IS NOT NULL`,
	// hero_top100 stays around 100 rows per hero; sequential scans are cheap
	// and keep the rebuild simple, so it gets no extra indexes.
}
