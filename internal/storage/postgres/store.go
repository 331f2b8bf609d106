// Package postgres provides the Postgres-backed record store and run ledger.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/storage/upsert"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

var dialect = upsert.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Date:        func(t time.Time) any { return t },
	JSON:        func(b []byte) any { return b },
	Now:         "now()",
}

// Store writes records and run ledger rows into Postgres.
type Store struct {
	pool pool
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the record and ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Begin opens a transaction-backed session.
func (s *Store) Begin(ctx context.Context) (collector.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, collector.NewPersistenceError("begin", err)
	}
	return &session{tx: tx}, nil
}

// StartRun inserts a ledger row in the running state.
func (s *Store) StartRun(ctx context.Context, run collector.RunRecord) error {
	query := `INSERT INTO ` + upsert.RunsTable + ` (run_id, job, collection_id, started_at, status)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, run.RunID, string(run.Job), run.CollectionID, run.StartedAt, string(run.Status)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, run collector.RunRecord) error {
	query := `UPDATE ` + upsert.RunsTable + `
SET finished_at = $1, status = $2, pages = $3, collected = $4, duplicates = $5, failures = $6, error_message = $7
WHERE run_id = $8`
	tag, err := s.pool.Exec(ctx, query,
		run.FinishedAt,
		string(run.Status),
		run.Stats.Pages,
		run.Stats.Collected,
		run.Stats.Duplicates,
		run.Stats.Failures,
		run.ErrorMessage,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: run %s not found", run.RunID)
	}
	return nil
}

type session struct {
	tx pgx.Tx
}

func (s *session) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Upsert implements collector.Session.
func (s *session) Upsert(ctx context.Context, rec collector.Record, meta collector.RowMeta) (bool, error) {
	row, err := upsert.Build(dialect, rec, meta)
	if err != nil {
		return false, err
	}
	return upsert.Write(ctx, s.exec, dialect, row, isUniqueViolation)
}

// Commit implements collector.Session.
func (s *session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return collector.NewPersistenceError("commit", err)
	}
	return nil
}

// Rollback implements collector.Session. Rolling back a finished transaction is a no-op.
func (s *session) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return collector.NewPersistenceError("rollback", err)
	}
	return nil
}

// isUniqueViolation reports a duplicate on one of the business-key
// constraints. Other unique violations are not identity conflicts.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	switch pgErr.ConstraintName {
	case upsert.LawIdentityConstraint, upsert.PrecedentIdentityConstraint:
		return true
	default:
		return false
	}
}

var (
	_ collector.Store     = (*Store)(nil)
	_ collector.RunLedger = (*Store)(nil)
)
