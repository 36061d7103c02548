package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotagraph/coordinator/internal/storage/memory"
	"github.com/dotagraph/coordinator/internal/store"
)

func TestMergeHeroStatsKeepsLargerMatches(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 10, Wins: 4},
	}))
	// A stale resubmission with fewer matches must not clobber the row.
	require.NoError(t, s.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 7, Wins: 6},
	}))

	rows, err := s.HeroStats(ctx, 1, []int32{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Matches)
	assert.Equal(t, 4, rows[0].Wins)

	// An equal-or-larger count overwrites, carrying the new wins.
	require.NoError(t, s.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 10, Wins: 5},
	}))
	rows, err = s.HeroStats(ctx, 1, []int32{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Wins)
}

func TestLeaderboardThresholdAndEviction(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	entries := []store.LeaderboardEntry{
		{HeroID: 1, AccountID: 10, Matches: 30, Wins: 20},
		{HeroID: 1, AccountID: 11, Matches: 20, Wins: 10},
		{HeroID: 1, AccountID: 12, Matches: 20, Wins: 10},
	}
	for _, e := range entries {
		require.NoError(t, s.InsertLeaderboardEntry(ctx, e))
	}

	thresholds, err := s.LeaderboardThresholds(ctx, []int32{1}, 3)
	require.NoError(t, err)
	// Rank 3 is the tied row with the higher account id.
	assert.Equal(t, int64(12), thresholds[1].AccountID)

	require.NoError(t, s.EvictLowest(ctx, 1))
	board, err := s.Leaderboard(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, int64(10), board[0].AccountID)
	assert.Equal(t, int64(11), board[1].AccountID, "tie evicts the higher account id")
}

func TestUpdateLeaderboardEntryRequiresExistingRow(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	err := s.UpdateLeaderboardEntry(ctx, store.LeaderboardEntry{HeroID: 1, AccountID: 1, Matches: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRebuildLeaderboardFromFacts(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 5, Wins: 1},
		{AccountID: 2, HeroID: 1, Matches: 9, Wins: 3},
		{AccountID: 3, HeroID: 1, Matches: 7, Wins: 2},
		{AccountID: 1, HeroID: 2, Matches: 4, Wins: 4},
	}))

	require.NoError(t, s.RebuildLeaderboard(ctx, 2))

	board, err := s.Leaderboard(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, board, 2, "rebuild truncates to size")
	assert.Equal(t, int64(2), board[0].AccountID)
	assert.Equal(t, int64(3), board[1].AccountID)

	board, err = s.Leaderboard(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)

	empty, err := s.LeaderboardEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestOverallBestOrdersByTotals(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.MergeHeroStats(ctx, []store.HeroStat{
		{AccountID: 1, HeroID: 1, Matches: 5, Wins: 1},
		{AccountID: 1, HeroID: 2, Matches: 5, Wins: 2},
		{AccountID: 2, HeroID: 1, Matches: 8, Wins: 6},
	}))

	totals, err := s.OverallBest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, int64(1), totals[0].AccountID, "10 total matches outranks 8")
	assert.Equal(t, 10, totals[0].Matches)
	assert.Equal(t, 3, totals[0].Wins)
	assert.Equal(t, int64(2), totals[1].AccountID)
}
