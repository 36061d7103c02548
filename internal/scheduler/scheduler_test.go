package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	eventsmem "github.com/dotagraph/coordinator/internal/events/memory"
	"github.com/dotagraph/coordinator/internal/storage/memory"
	"github.com/dotagraph/coordinator/internal/store"
)

func newTestScheduler(t *testing.T, st store.Store) *Scheduler {
	t.Helper()
	clk := newFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	s := New(st, clk, eventsmem.New(), zap.NewNop(), Config{
		RefreshEvery:  10,
		DiscoverEvery: 100,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

// Seed three accounts, collect for the first, and verify the next handout
// moves on while the leaderboard reflects the submission.
func TestSeedAssignSubmitAssign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	s := newTestScheduler(t, st)

	inserted, err := s.Seed(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), inserted)

	task, err := s.RequestTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, store.TaskCollectHeroStats, task.Kind())
	assert.Equal(t, int64(1), task.Account())

	require.NoError(t, s.SubmitHeroStats(ctx, 1, []HeroStatRow{
		{HeroID: 1, Matches: 10, Wins: 4},
	}))

	task, err = s.RequestTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(2), task.Account())

	waitFor(t, func() bool {
		board, err := s.Leaderboard(ctx, 1)
		return err == nil && len(board) == 1
	})
	board, err := s.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.LeaderboardEntry{HeroID: 1, AccountID: 1, Matches: 10, Wins: 4}, board[0])
}

func TestDiscoveryGrowsTheFrontier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	s := newTestScheduler(t, st)

	_, err := s.Seed(ctx, 1, 1)
	require.NoError(t, err)

	// Collect for the root, then drain the fallback discovery task.
	task, err := s.RequestTask(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), task.Account())
	require.NoError(t, s.SubmitHeroStats(ctx, 1, []HeroStatRow{{HeroID: 1, Matches: 1, Wins: 1}}))

	task, err = s.RequestTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, store.TaskDiscoverMatches, task.Kind())
	require.Equal(t, int64(1), task.Account())

	require.NoError(t, s.SubmitDiscovery(ctx, 1, []Neighbor{
		{ID: 2, Count: 1},
		{ID: 3, Count: 2},
	}, nil, nil, nil))

	// The discovered accounts surface as new collect tasks.
	waitFor(t, func() bool {
		p, err := s.Progress(ctx)
		return err == nil && p.Total == 3
	})
	task, err = s.RequestTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, store.TaskCollectHeroStats, task.Kind())
	assert.Equal(t, int64(2), task.Account())
}

func TestResetTaskReleasesClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	s := newTestScheduler(t, st)

	_, err := s.Seed(ctx, 1, 1)
	require.NoError(t, err)

	task, err := s.RequestTask(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), task.Account())

	require.NoError(t, s.ResetTask(ctx, 1, store.TaskCollectHeroStats))

	task, err = s.RequestTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(1), task.Account(), "reset re-offers the account")

	assert.ErrorIs(t, s.ResetTask(ctx, 99, ""), store.ErrNotFound)
}

func TestStartBackfillsEmptyLeaderboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()

	// Facts exist but the projection is empty, as after a schema wipe.
	require.NoError(t, st.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 6, Wins: 2},
	}))

	s := newTestScheduler(t, st)
	board, err := s.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, int64(1), board[0].AccountID)
}

// A claim abandoned before a restart must not wait a full sweep interval:
// Start releases timed-out claims before serving requests.
func TestStartReleasesStaleClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()

	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	require.NoError(t, st.CompleteHeroCollection(ctx, 1, time.Date(2026, 7, 31, 22, 0, 0, 0, time.UTC)))

	// Claimed an hour before the scheduler's clock, well past the 10m timeout.
	claimed, err := st.ClaimRefresh(ctx, time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	newTestScheduler(t, st)

	acct, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.AssignmentNone, acct.AssignedTo)
	assert.Nil(t, acct.AssignedAt)
}

func TestStopDrainsQueuedSubmissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	clk := newFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	s := New(st, clk, nil, zap.NewNop(), Config{})
	require.NoError(t, s.Start(ctx))

	_, err := s.Seed(ctx, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.SubmitHeroStats(ctx, 1, []HeroStatRow{{HeroID: 1, Matches: 2, Wins: 1}}))

	s.Stop()

	rows, err := st.HeroStats(ctx, 1, []int32{1})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "queued work finishes before Stop returns")
}
