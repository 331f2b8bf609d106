package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func strPtr(s string) *string { return &s }

func lawRecord(serial int64, lawID string, enforce time.Time) *collector.LawRecord {
	return &collector.LawRecord{
		SerialNo:    serial,
		LawID:       strPtr(lawID),
		NameKo:      "민법",
		EnforceDate: enforce,
		RawPayload:  map[string]any{"법령일련번호": serial},
	}
}

func upsertOne(t *testing.T, store *Store, rec collector.Record) (bool, error) {
	t.Helper()
	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, upErr := sess.Upsert(ctx, rec, collector.RowMeta{CollectionID: "c-1", RequestURL: "https://x/lawService.do"})
	require.NoError(t, sess.Commit(ctx))
	return inserted, upErr
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	enforce := time.Date(2020, 3, 5, 0, 0, 0, 0, time.UTC)

	inserted, err := upsertOne(t, store, lawRecord(9682, "001823", enforce))
	require.NoError(t, err)
	assert.True(t, inserted)

	var collectedAt string
	require.NoError(t, store.db.QueryRow(`SELECT collected_at FROM raw_law_data WHERE law_serial_no = 9682`).Scan(&collectedAt))
	_, err = time.Parse(time.DateTime, collectedAt)
	require.NoError(t, err)
	_, err = store.db.Exec(`UPDATE raw_law_data SET collected_at = '2000-01-01 00:00:00'`)
	require.NoError(t, err)

	rec := lawRecord(9682, "001823", enforce)
	rec.NameKo = "민법(개정)"
	inserted, err = upsertOne(t, store, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	var (
		count int
		name  string
		date  string
	)
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM raw_law_data`).Scan(&count))
	require.NoError(t, store.db.QueryRow(`SELECT law_name_ko, enforce_date FROM raw_law_data WHERE law_serial_no = 9682`).Scan(&name, &date))
	assert.Equal(t, 1, count)
	assert.Equal(t, "민법(개정)", name)
	assert.Equal(t, "2020-03-05", date)

	require.NoError(t, store.db.QueryRow(`SELECT collected_at FROM raw_law_data WHERE law_serial_no = 9682`).Scan(&collectedAt))
	assert.NotEqual(t, "2000-01-01 00:00:00", collectedAt)
}

func TestSecondaryKeyConflictIsItemScoped(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	enforce := time.Date(2020, 3, 5, 0, 0, 0, 0, time.UTC)

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Upsert(ctx, lawRecord(1, "001823", enforce), collector.RowMeta{CollectionID: "c"})
	require.NoError(t, err)

	_, err = sess.Upsert(ctx, lawRecord(2, "001823", enforce), collector.RowMeta{CollectionID: "c"})
	require.ErrorIs(t, err, collector.ErrIdentityConflict)
	assert.True(t, collector.IsItemScoped(err))

	// The transaction stays usable after the conflicting item.
	inserted, err := sess.Upsert(ctx, lawRecord(3, "001824", enforce), collector.RowMeta{CollectionID: "c"})
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, sess.Commit(ctx))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM raw_law_data`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	rec := &collector.PrecedentRecord{SerialNo: 228541, CaseNumber: "2023도1234", RawPayload: map[string]any{}}
	inserted, err := sess.Upsert(ctx, rec, collector.RowMeta{CollectionID: "c"})
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, sess.Rollback(ctx))
	require.NoError(t, sess.Rollback(ctx))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM raw_precedent_data`).Scan(&count))
	assert.Zero(t, count)
}

func TestRunLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	run := collector.RunRecord{
		RunID:        "run-1",
		Job:          collector.JobPrecedents,
		CollectionID: "c-1",
		StartedAt:    started,
		Status:       collector.RunRunning,
	}
	require.NoError(t, store.StartRun(ctx, run))

	finished := started.Add(90 * time.Second)
	run.FinishedAt = &finished
	run.Status = collector.RunFailed
	run.Stats = collector.RunStats{Pages: 1, Collected: 2, Failures: 1}
	run.ErrorMessage = strPtr("persistence: commit: disk full")
	require.NoError(t, store.FinishRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	require.Error(t, store.FinishRun(ctx, collector.RunRecord{RunID: "missing"}))
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
	assert.Equal(t, "/tmp/x.db?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dsn("/tmp/x.db"))
	assert.Contains(t, dsn("file:x.db?mode=rwc"), "mode=rwc&_pragma=")
}
