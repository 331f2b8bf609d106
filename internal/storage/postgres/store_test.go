package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

func lawRecord() *collector.LawRecord {
	return &collector.LawRecord{
		SerialNo:    9682,
		NameKo:      "민법",
		EnforceDate: time.Date(2020, 3, 5, 0, 0, 0, 0, time.UTC),
		UUID:        "LAW-009682-20200305-001",
		RawPayload:  map[string]any{"법령일련번호": "9682"},
	}
}

const (
	lawColumns       = 24
	precedentColumns = 21
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestSessionUpsertInsertsNewRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec("^INSERT INTO raw_law_data").WithArgs(anyArgs(lawColumns)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("^RELEASE SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err := sess.Upsert(ctx, lawRecord(), collector.RowMeta{CollectionID: "c-1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpsertUpdatesExistingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec("^INSERT INTO raw_precedent_data").WithArgs(anyArgs(precedentColumns)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("^UPDATE raw_precedent_data SET identity_key = \\$2, .*, collected_at = now\\(\\) WHERE prec_serial_no = \\$1$").WithArgs(anyArgs(precedentColumns)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("^RELEASE SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	rec := &collector.PrecedentRecord{SerialNo: 1, CaseNumber: "2023도1234", RawPayload: map[string]any{}}
	inserted, err := sess.Upsert(ctx, rec, collector.RowMeta{CollectionID: "c-1"})
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpsertMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec("^INSERT INTO raw_law_data").WithArgs(anyArgs(lawColumns)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_law_version"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^RELEASE SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Upsert(ctx, lawRecord(), collector.RowMeta{CollectionID: "c-1"})
	require.ErrorIs(t, err, collector.ErrIdentityConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpsertPrimaryKeyViolationIsNotIdentityConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec("^INSERT INTO raw_law_data").WithArgs(anyArgs(lawColumns)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "raw_law_data_pkey"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^RELEASE SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Upsert(ctx, lawRecord(), collector.RowMeta{CollectionID: "c-1"})
	require.NotErrorIs(t, err, collector.ErrIdentityConflict)
	var perr *collector.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpsertWrapsDatabaseFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec("^INSERT INTO raw_law_data").WithArgs(anyArgs(lawColumns)...).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^RELEASE SAVEPOINT upsert_item").WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectRollback()

	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Upsert(ctx, lawRecord(), collector.RowMeta{CollectionID: "c-1"})
	var perr *collector.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.NoError(t, sess.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := store.Begin(context.Background())
	var perr *collector.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "begin", perr.Op)
}

func TestRunLedger(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	run := collector.RunRecord{
		RunID:        "run-1",
		Job:          collector.JobLaws,
		CollectionID: "c-1",
		StartedAt:    started,
		Status:       collector.RunRunning,
	}

	mock.ExpectExec("INSERT INTO collection_runs").
		WithArgs("run-1", "laws", "c-1", started, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.StartRun(context.Background(), run))

	run.FinishedAt = &finished
	run.Status = collector.RunSucceeded
	run.Stats = collector.RunStats{Pages: 2, Collected: 3, Duplicates: 1}
	mock.ExpectExec("UPDATE collection_runs").
		WithArgs(&finished, "succeeded", 2, 3, 1, 0, (*string)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.FinishRun(context.Background(), run))

	mock.ExpectExec("UPDATE collection_runs").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.Error(t, store.FinishRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAndPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS raw_law_data").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.Migrate(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}
