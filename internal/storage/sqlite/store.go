// Package sqlite provides a single-file SQLite record store and run ledger
// for local collection runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/storage/upsert"
)

//go:embed schema.sql
var schemaSQL string

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano
)

// Connection pragmas, applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

var dialect = upsert.Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("?%d", n) },
	Date:        func(t time.Time) any { return t.UTC().Format(dateLayout) },
	JSON:        func(b []byte) any { return string(b) },
	Now:         "CURRENT_TIMESTAMP",
}

// Store writes records and run ledger rows into a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Migrate creates the record and ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Begin opens a transaction-backed session. The transaction is detached from
// ctx cancellation so a canceled run can still commit its partial work.
func (s *Store) Begin(ctx context.Context) (collector.Session, error) {
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, collector.NewPersistenceError("begin", err)
	}
	return &session{tx: tx}, nil
}

// StartRun inserts a ledger row in the running state.
func (s *Store) StartRun(ctx context.Context, run collector.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+upsert.RunsTable+` (run_id, job, collection_id, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, string(run.Job), run.CollectionID, run.StartedAt.UTC().Format(timestampLayout), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, run collector.RunRecord) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(timestampLayout)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+upsert.RunsTable+`
SET finished_at = ?, status = ?, pages = ?, collected = ?, duplicates = ?, failures = ?, error_message = ?
WHERE run_id = ?`,
		finished,
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
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: run %s not found", run.RunID)
	}
	return nil
}

// GetRun loads one ledger row.
func (s *Store) GetRun(ctx context.Context, runID string) (collector.RunRecord, error) {
	var (
		run               collector.RunRecord
		job, status       string
		started           string
		finished, message sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, job, collection_id, started_at, finished_at, status, pages, collected, duplicates, failures, error_message
FROM `+upsert.RunsTable+` WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &job, &run.CollectionID, &started, &finished, &status,
		&run.Stats.Pages, &run.Stats.Collected, &run.Stats.Duplicates, &run.Stats.Failures, &message)
	if err != nil {
		return collector.RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.Job = collector.JobName(job)
	run.Status = collector.RunStatus(status)
	if run.StartedAt, err = time.Parse(timestampLayout, started); err != nil {
		return collector.RunRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timestampLayout, finished.String)
		if err != nil {
			return collector.RunRecord{}, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	if message.Valid {
		run.ErrorMessage = &message.String
	}
	return run, nil
}

type session struct {
	tx *sql.Tx
}

func (s *session) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
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
func (s *session) Commit(_ context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return collector.NewPersistenceError("commit", err)
	}
	return nil
}

// Rollback implements collector.Session. Rolling back a finished transaction is a no-op.
func (s *session) Rollback(_ context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return collector.NewPersistenceError("rollback", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr *moderncsqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(serr.Error(), "UNIQUE")
	default:
		return false
	}
}

var (
	_ collector.Store     = (*Store)(nil)
	_ collector.RunLedger = (*Store)(nil)
)
