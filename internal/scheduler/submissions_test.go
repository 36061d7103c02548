package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	eventsmem "github.com/dotagraph/coordinator/internal/events/memory"
	"github.com/dotagraph/coordinator/internal/storage/memory"
	"github.com/dotagraph/coordinator/internal/store"
)

func newTestProcessor(t *testing.T, st store.Store) (*Processor, *eventsmem.Publisher, *fakeClock) {
	t.Helper()
	clk := newFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	pub := eventsmem.New()
	pool := newWorkerPool(1, 16, zap.NewNop())
	pool.Start(context.Background(), 1)
	t.Cleanup(pool.Stop)
	board := NewMaintainer(st, 100, zap.NewNop())
	return NewProcessor(st, board, clk, pool, pub, 500, zap.NewNop()), pub, clk
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitHeroStatsStoresRowsAndLeaderboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	p, pub, _ := newTestProcessor(t, st)

	require.NoError(t, p.SubmitHeroStats(ctx, 1, []HeroStatRow{
		{HeroID: 1, Matches: 10, Wins: 4},
	}))

	// The ack is synchronous: completion is visible immediately.
	acct, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acct.HeroDone)
	assert.NotNil(t, acct.HeroRefreshedAt)
	assert.Equal(t, store.AssignmentNone, acct.AssignedTo)

	waitFor(t, func() bool {
		rows, err := st.HeroStats(ctx, 1, []int32{1})
		return err == nil && len(rows) == 1
	})
	board, err := st.Leaderboard(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, store.LeaderboardEntry{HeroID: 1, AccountID: 1, Matches: 10, Wins: 4}, board[0])

	waitFor(t, func() bool { return len(pub.Events()) == 1 })
}

func TestSubmitHeroStatsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	p, _, _ := newTestProcessor(t, st)

	rows := []HeroStatRow{{HeroID: 1, Matches: 10, Wins: 4}}
	require.NoError(t, p.SubmitHeroStats(ctx, 1, rows))
	require.NoError(t, p.SubmitHeroStats(ctx, 1, rows))

	waitFor(t, func() bool {
		stored, err := st.HeroStats(ctx, 1, []int32{1})
		return err == nil && len(stored) == 1 && stored[0].Matches == 10 && stored[0].Wins == 4
	})
	board, err := st.Leaderboard(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, board, 1, "resubmission does not duplicate leaderboard rows")
}

func TestSubmitHeroStatsFiltersUnknownHeroes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	p, _, _ := newTestProcessor(t, st)

	require.NoError(t, p.SubmitHeroStats(ctx, 1, []HeroStatRow{
		{HeroID: 1, Matches: 3, Wins: 1},
		{HeroID: 9999, Matches: 50, Wins: 50},
		{HeroID: -2, Matches: 4, Wins: 2},
	}))

	waitFor(t, func() bool {
		stored, err := st.HeroStats(ctx, 1, []int32{1})
		return err == nil && len(stored) == 1
	})
	stored, err := st.HeroStats(ctx, 1, []int32{1, 9999, -2})
	require.NoError(t, err)
	assert.Len(t, stored, 1, "rows outside the hero catalog are dropped")
}

func TestSubmitHeroStatsUnknownAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	p, _, _ := newTestProcessor(t, st)

	err := p.SubmitHeroStats(ctx, 42, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingStore forces the asynchronous merge to fail so the compensating
// rollback can be observed.
type failingStore struct {
	store.Store
	failMerge  bool
	failUpsert bool
}

func (f *failingStore) MergeHeroStats(ctx context.Context, rows []store.HeroStat) error {
	if f.failMerge {
		return errors.New("merge failed")
	}
	return f.Store.MergeHeroStats(ctx, rows)
}

func (f *failingStore) UpsertDiscovered(ctx context.Context, rows []store.Discovered) error {
	if f.failUpsert {
		return errors.New("upsert failed")
	}
	return f.Store.UpsertDiscovered(ctx, rows)
}

func TestSubmitHeroStatsRollsBackOnAsyncFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	_, err := mem.Seed(ctx, 1, 1)
	require.NoError(t, err)
	st := &failingStore{Store: mem, failMerge: true}
	p, pub, _ := newTestProcessor(t, st)

	require.NoError(t, p.SubmitHeroStats(ctx, 1, []HeroStatRow{
		{HeroID: 1, Matches: 10, Wins: 4},
	}))

	// The completion flag is rewound so the work is re-offered.
	waitFor(t, func() bool {
		acct, err := mem.Get(ctx, 1)
		return err == nil && !acct.HeroDone && acct.HeroRefreshedAt == nil
	})
	assert.Empty(t, pub.Events(), "failed submissions publish nothing")
}

func TestSubmitDiscoveryInsertsNeighbors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	p, _, _ := newTestProcessor(t, st)

	high := int64(777)
	require.NoError(t, p.SubmitDiscovery(ctx, 1, []Neighbor{
		{ID: 5, Count: 2},
		{ID: 5, Count: 1}, // duplicate accumulates
		{ID: 1, Count: 9}, // self-reference dropped
		{ID: -3, Count: 1},
	}, nil, nil, &high))

	acct, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acct.DiscoverDone)
	require.NotNil(t, acct.HighestMatchID)
	assert.Equal(t, int64(777), *acct.HighestMatchID)

	waitFor(t, func() bool {
		_, err := st.Get(ctx, 5)
		return err == nil
	})
	child, err := st.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, child.Depth)
	assert.Equal(t, 1, *child.Depth, "stored root depth 0 plus one")
	assert.Equal(t, 3, child.SeenCount)

	// Discovery submissions rewind the collect cursor so new low ids are
	// picked up without waiting for a wrap.
	waitFor(t, func() bool {
		cursor, err := st.CollectCursor(ctx)
		return err == nil && cursor == -1
	})
}

func TestSubmitDiscoveryDepthResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_, err := st.Seed(ctx, 1, 1)
	require.NoError(t, err)
	p, _, _ := newTestProcessor(t, st)

	next := 4
	require.NoError(t, p.SubmitDiscovery(ctx, 1, []Neighbor{{ID: 8, Count: 1}}, &next, nil, nil))

	waitFor(t, func() bool {
		_, err := st.Get(ctx, 8)
		return err == nil
	})
	child, err := st.Get(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, child.Depth)
	assert.Equal(t, 4, *child.Depth, "explicit next depth wins over stored depth")
}

func TestSubmitDiscoveryRollsBackOnAsyncFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	_, err := mem.Seed(ctx, 1, 1)
	require.NoError(t, err)
	st := &failingStore{Store: mem, failUpsert: true}
	p, _, _ := newTestProcessor(t, st)

	require.NoError(t, p.SubmitDiscovery(ctx, 1, []Neighbor{{ID: 5, Count: 1}}, nil, nil, nil))

	waitFor(t, func() bool {
		acct, err := mem.Get(ctx, 1)
		return err == nil && !acct.DiscoverDone
	})
}

func TestResolveDepthFallbackChain(t *testing.T) {
	t.Parallel()
	next, parent, stored := 3, 5, 7

	assert.Equal(t, 3, resolveDepth(&next, &parent, &stored))
	assert.Equal(t, 6, resolveDepth(nil, &parent, &stored))
	assert.Equal(t, 8, resolveDepth(nil, nil, &stored))
	assert.Equal(t, 1, resolveDepth(nil, nil, nil))
}
