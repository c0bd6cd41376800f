package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, RunSpec{Command: "fetch", Label: "2024-01..2024-03", Planned: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	// Running runs are not "latest".
	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, o := range []bulkfetch.Outcome{
		outcomeOf(bulkfetch.Succeeded, period(2024, time.January)),
		outcomeOf(bulkfetch.AlreadySatisfied, period(2024, time.February)),
		outcomeOf(bulkfetch.SkippedUnavailable, period(2024, time.March)),
	} {
		require.NoError(t, st.RecordOutcome(ctx, run.ID, o))
	}

	summary := &bulkfetch.Summary{Total: 3, Succeeded: 1, AlreadySatisfied: 1, SkippedUnavailable: 1, Bytes: 2048}
	require.NoError(t, st.CompleteRun(ctx, run.ID, summary, nil))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.Equal(t, "fetch", got.Command)
	assert.Equal(t, "2024-01..2024-03", got.Label)
	assert.Equal(t, 3, got.Planned)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.SkippedUnavailable)
	assert.Equal(t, int64(2048), got.Bytes)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)

	latest, err = st.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)

	outcomes, err := st.Outcomes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, period(2024, time.January), outcomes[0].Period)
	assert.Equal(t, bulkfetch.Succeeded, outcomes[0].Kind)
	assert.Equal(t, int64(2048), outcomes[0].Size)
	assert.Equal(t, bulkfetch.SkippedUnavailable, outcomes[2].Kind)
	assert.Equal(t, 404, outcomes[2].StatusCode)
	assert.NotEmpty(t, outcomes[2].Reason)
	assert.False(t, outcomes[2].Transient)
}

func TestSQLite_RecordOutcomeUpserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, RunSpec{Command: "fetch", Planned: 1})
	require.NoError(t, err)

	p := period(2023, time.July)
	require.NoError(t, st.RecordOutcome(ctx, run.ID, outcomeOf(bulkfetch.Failed, p)))
	require.NoError(t, st.RecordOutcome(ctx, run.ID, outcomeOf(bulkfetch.Succeeded, p)))

	outcomes, err := st.Outcomes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, bulkfetch.Succeeded, outcomes[0].Kind)
	assert.Empty(t, outcomes[0].Reason)
}

func TestSQLite_FailedPeriods(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, RunSpec{Command: "fetch", Planned: 4})
	require.NoError(t, err)
	require.NoError(t, st.RecordOutcome(ctx, run.ID, outcomeOf(bulkfetch.Failed, period(2024, time.April))))
	require.NoError(t, st.RecordOutcome(ctx, run.ID, outcomeOf(bulkfetch.SkippedUnavailable, period(2024, time.February))))
	require.NoError(t, st.RecordOutcome(ctx, run.ID, outcomeOf(bulkfetch.Succeeded, period(2024, time.January))))
	require.NoError(t, st.RecordOutcome(ctx, run.ID, cancelledOutcome(period(2024, time.March))))

	all, err := FailedPeriods(ctx, st, run.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []bulkfetch.Period{
		period(2024, time.February), period(2024, time.March), period(2024, time.April),
	}, all)

	transient, err := FailedPeriods(ctx, st, run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []bulkfetch.Period{period(2024, time.April)}, transient)
}

func TestSQLite_CompleteRunStatuses(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	aborted, err := st.StartRun(ctx, RunSpec{Command: "fetch"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, aborted.ID, &bulkfetch.Summary{Aborted: true}, context.Canceled))

	failed, err := st.StartRun(ctx, RunSpec{Command: "retry"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, failed.ID, nil, errors.New("storage: read-only file system")))

	got, err := st.GetRun(ctx, aborted.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAborted, got.Status)
	assert.Equal(t, "context canceled", got.Error)

	got, err = st.GetRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "read-only")

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed.ID, runs[0].ID, "newest first")

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, latest.ID)
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.Error(t, err)

	err = st.CompleteRun(ctx, "missing", &bulkfetch.Summary{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	outcomes, err := st.Outcomes(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = Open(ctx, "mysql", "dsn")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
