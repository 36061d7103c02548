package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotagraph/coordinator/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	st, err := NewWithPool(mock)
	require.NoError(t, err)
	return st, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil)
	assert.Error(t, err)
}

func TestSeedReportsInsertedCount(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts (account_id, depth)")).
		WithArgs(int64(1), int64(5)).
		WillReturnResult(pgxmock.NewResult("INSERT", 5))

	inserted, err := st.Seed(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCollectReturnsClaimedRow(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET assigned_to = 'hero', assigned_at = NOW()")).
		WithArgs(int64(-1)).
		WillReturnRows(pgxmock.NewRows([]string{"account_id", "depth", "highest_match_id"}).
			AddRow(int64(7), 2, int64(900)))

	claimed, err := st.ClaimCollect(context.Background(), -1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, int64(7), claimed.ID)
	assert.Equal(t, 2, claimed.Depth)
	assert.Equal(t, int64(900), claimed.HighestMatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCollectNoCandidate(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET assigned_to = 'hero', assigned_at = NOW()")).
		WithArgs(int64(3)).
		WillReturnError(pgx.ErrNoRows)

	claimed, err := st.ClaimCollect(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, claimed, "an empty claim is not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRetriesTransientContention(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	pattern := regexp.QuoteMeta("SET assigned_to = 'discover'")
	mock.ExpectQuery(pattern).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery(pattern).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"account_id", "depth", "highest_match_id"}).
			AddRow(int64(4), 1, int64(0)))

	claimed, err := st.ClaimDiscovery(context.Background(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, int64(4), claimed.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNonTransientErrorSurfaces(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET assigned_to = 'discover'")).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "42703"})

	_, err := st.ClaimDiscovery(context.Background(), time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteHeroCollectionNotFound(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET hero_done = TRUE, hero_refreshed_at = $2")).
		WithArgs(int64(42), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.CompleteHeroCollection(context.Background(), 42, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDiscoveryReturnsStoredDepth(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	high := int64(321)
	stored := 2

	mock.ExpectQuery(regexp.QuoteMeta("SET discover_done = TRUE")).
		WithArgs(int64(5), &high).
		WillReturnRows(pgxmock.NewRows([]string{"depth"}).AddRow(&stored))

	depth, err := st.CompleteDiscovery(context.Background(), 5, &high)
	require.NoError(t, err)
	require.NotNil(t, depth)
	assert.Equal(t, 2, *depth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeHeroStatsBatchesIntoOneStatement(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hero_stats (account_id, hero_id, matches, wins)")).
		WithArgs(
			[]int64{1, 1},
			[]int32{1, 2},
			[]int32{10, 3},
			[]int32{4, 1},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := st.MergeHeroStats(context.Background(), []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 10, Wins: 4},
		{AccountID: 1, HeroID: 2, Matches: 3, Wins: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeHeroStatsEmptyIsNoop(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	require.NoError(t, st.MergeHeroStats(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementAssignCounter(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scheduler_meta (key, value)")).
		WithArgs("task_assignment_counter").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(11)))

	n, err := st.IncrementAssignCounter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectCursorDefaultsWhenUnset(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM scheduler_meta")).
		WithArgs("hero_assignment_cursor").
		WillReturnError(pgx.ErrNoRows)

	cursor, err := st.CollectCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), cursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAdvanceSweepStamp(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	pattern := regexp.QuoteMeta("WHERE scheduler_meta.value::timestamptz <= $3::timestamptz")
	mock.ExpectExec(pattern).
		WithArgs("last_assignment_cleanup", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(pattern).
		WithArgs("last_assignment_cleanup", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	due, err := st.TryAdvanceSweepStamp(context.Background(), now, time.Minute)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = st.TryAdvanceSweepStamp(context.Background(), now, time.Minute)
	require.NoError(t, err)
	assert.False(t, due, "a fresh stamp blocks the sweep")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStaleCountsRows(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)
	cutoff := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("WHERE assigned_to IS NOT NULL")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	released, err := st.ReleaseStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrapAppliesSchemaUnderAdvisoryLock(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(schemaLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	for range schemaStatements {
		mock.ExpectExec("CREATE (TABLE|INDEX) IF NOT EXISTS").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts (account_id, depth)")).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := st.Bootstrap(context.Background(), 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressAggregates(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE hero_done = TRUE)")).
		WillReturnRows(pgxmock.NewRows([]string{"total", "hero_done", "discover_done"}).
			AddRow(int64(10), int64(4), int64(2)))

	p, err := st.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Progress{Total: 10, HeroDone: 4, DiscoverDone: 2}, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}
