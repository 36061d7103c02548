package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/store"
	"github.com/dotagraph/coordinator/internal/telemetry"
)

// Maintainer keeps the per-hero top-K projection current without ever
// re-ranking the fact table on the hot path. Submissions touch at most a
// handful of rows; a periodic full rebuild corrects anything the
// incremental path drifted on.
type Maintainer struct {
	store store.Store
	size  int
	log   *zap.Logger
}

func NewMaintainer(st store.Store, size int, log *zap.Logger) *Maintainer {
	if size <= 0 {
		size = 100
	}
	return &Maintainer{store: st, size: size, log: log}
}

// Apply folds one account's freshly merged stats into the projection.
// Existing rows are rewritten in place; new rows are admitted while a
// hero's board is short, or by displacing the current lowest row when the
// candidate strictly outranks it on (matches, wins).
func (m *Maintainer) Apply(ctx context.Context, stats []store.HeroStat) error {
	if len(stats) == 0 {
		return nil
	}
	accountID := stats[0].AccountID
	heroIDs := make([]int32, 0, len(stats))
	for _, s := range stats {
		heroIDs = append(heroIDs, s.HeroID)
	}

	existing, err := m.store.LeaderboardEntries(ctx, accountID, heroIDs)
	if err != nil {
		return err
	}
	onBoard := make(map[int32]store.LeaderboardEntry, len(existing))
	for _, e := range existing {
		onBoard[e.HeroID] = e
	}
	sizes, err := m.store.LeaderboardSizes(ctx, heroIDs)
	if err != nil {
		return err
	}
	thresholds, err := m.store.LeaderboardThresholds(ctx, heroIDs, m.size)
	if err != nil {
		return err
	}

	for _, s := range stats {
		candidate := store.LeaderboardEntry{
			HeroID:    s.HeroID,
			AccountID: s.AccountID,
			Matches:   s.Matches,
			Wins:      s.Wins,
		}

		if cur, ok := onBoard[s.HeroID]; ok {
			if cur.Matches == candidate.Matches && cur.Wins == candidate.Wins {
				continue
			}
			if err := m.store.UpdateLeaderboardEntry(ctx, candidate); err != nil {
				return err
			}
			telemetry.ObserveLeaderboardUpdate("update")
			continue
		}

		if sizes[s.HeroID] < m.size {
			if err := m.store.InsertLeaderboardEntry(ctx, candidate); err != nil {
				return err
			}
			sizes[s.HeroID]++
			telemetry.ObserveLeaderboardUpdate("insert")
			continue
		}

		// Board is full: only a candidate strictly ahead of the current
		// rank-K row on (matches, wins) displaces it.
		threshold, ok := thresholds[s.HeroID]
		if !ok {
			continue
		}
		if candidate.Matches < threshold.Matches {
			continue
		}
		if candidate.Matches == threshold.Matches && candidate.Wins <= threshold.Wins {
			continue
		}
		if err := m.store.InsertLeaderboardEntry(ctx, candidate); err != nil {
			return err
		}
		if err := m.store.EvictLowest(ctx, s.HeroID); err != nil {
			return err
		}
		telemetry.ObserveLeaderboardUpdate("evict")
	}
	return nil
}

// Rebuild recomputes the whole projection from the fact table.
func (m *Maintainer) Rebuild(ctx context.Context) error {
	if err := m.store.RebuildLeaderboard(ctx, m.size); err != nil {
		return err
	}
	telemetry.ObserveLeaderboardUpdate("rebuild")
	m.log.Info("leaderboard rebuilt", zap.Int("size", m.size))
	return nil
}

// RebuildIfEmpty backfills the projection once at startup so reads work
// before the first periodic rebuild fires.
func (m *Maintainer) RebuildIfEmpty(ctx context.Context) error {
	empty, err := m.store.LeaderboardEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	return m.Rebuild(ctx)
}
