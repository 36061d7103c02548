package scheduler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/clock"
	"github.com/dotagraph/coordinator/internal/events"
	"github.com/dotagraph/coordinator/internal/heroes"
	"github.com/dotagraph/coordinator/internal/store"
	"github.com/dotagraph/coordinator/internal/telemetry"
)

// HeroStatRow is one hero's counters as reported by a worker.
type HeroStatRow struct {
	HeroID  int32
	Matches int
	Wins    int
}

// Neighbor is one peer account reported by a discovery submission, with the
// number of shared matches it was seen in.
type Neighbor struct {
	ID    int64
	Count int
}

// Processor handles worker submissions. Completion flags flip synchronously
// so the account can be re-handed out immediately; the row writes and
// leaderboard folds run on the background pool, with a compensating rollback
// when they fail.
type Processor struct {
	store     store.Store
	board     *Maintainer
	clock     clock.Clock
	pool      *workerPool
	pub       events.Publisher
	batchSize int
	log       *zap.Logger
}

func NewProcessor(st store.Store, board *Maintainer, clk clock.Clock, pool *workerPool, pub events.Publisher, batchSize int, log *zap.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Processor{
		store:     st,
		board:     board,
		clock:     clk,
		pool:      pool,
		pub:       pub,
		batchSize: batchSize,
		log:       log,
	}
}

// SubmitHeroStats acknowledges a hero-stats result. Rows naming hero ids
// outside the catalog are dropped; duplicate hero ids keep the last row.
// Returns store.ErrNotFound when the account is unknown.
func (p *Processor) SubmitHeroStats(ctx context.Context, accountID int64, rows []HeroStatRow) error {
	if err := p.store.CompleteHeroCollection(ctx, accountID, p.clock.Now()); err != nil {
		return err
	}

	byHero := make(map[int32]int, len(rows))
	merged := make([]store.HeroStat, 0, len(rows))
	for _, row := range rows {
		if !heroes.Known(row.HeroID) || row.Matches < 0 || row.Wins < 0 {
			continue
		}
		stat := store.HeroStat{
			AccountID: accountID,
			HeroID:    row.HeroID,
			Matches:   row.Matches,
			Wins:      row.Wins,
		}
		if i, ok := byHero[row.HeroID]; ok {
			merged[i] = stat
			continue
		}
		byHero[row.HeroID] = len(merged)
		merged = append(merged, stat)
	}

	return p.pool.Submit(ctx, func(ctx context.Context) {
		p.processHeroStats(ctx, accountID, merged)
	})
}

func (p *Processor) processHeroStats(ctx context.Context, accountID int64, rows []store.HeroStat) {
	err := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := p.store.MergeHeroStats(ctx, rows); err != nil {
			return err
		}
		heroIDs := make([]int32, 0, len(rows))
		for _, r := range rows {
			heroIDs = append(heroIDs, r.HeroID)
		}
		// Read back after the merge: the keep-larger rule may have retained
		// older rows, and the board must reflect what is stored.
		stored, err := p.store.HeroStats(ctx, accountID, heroIDs)
		if err != nil {
			return err
		}
		return p.board.Apply(ctx, stored)
	}()
	if err != nil {
		p.log.Error("process hero stats", zap.Int64("account_id", accountID), zap.Error(err))
		telemetry.ObserveSubmission("hero_stats", "failed")
		if rbErr := p.store.RollbackHeroCollection(ctx, accountID); rbErr != nil {
			p.log.Error("rollback hero collection", zap.Int64("account_id", accountID), zap.Error(rbErr))
		}
		return
	}
	telemetry.ObserveSubmission("hero_stats", "ok")
	p.publish(ctx, events.KindHeroStatsProcessed, accountID, int64(len(rows)))
}

// SubmitDiscovery acknowledges a discovery result: the account's discovery
// phase is marked done and the match-id watermark merged synchronously, then
// the neighbor upsert runs in the background. Neighbor depth is the
// submitted next depth when present, otherwise parent depth plus one,
// falling back to the stored depth plus one.
func (p *Processor) SubmitDiscovery(ctx context.Context, accountID int64, neighbors []Neighbor, nextDepth, parentDepth *int, highestMatchID *int64) error {
	storedDepth, err := p.store.CompleteDiscovery(ctx, accountID, highestMatchID)
	if err != nil {
		return err
	}
	depth := resolveDepth(nextDepth, parentDepth, storedDepth)

	seen := make(map[int64]int, len(neighbors))
	order := make([]int64, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ID <= 0 || n.ID == accountID || n.Count <= 0 {
			continue
		}
		if _, ok := seen[n.ID]; !ok {
			order = append(order, n.ID)
		}
		seen[n.ID] += n.Count
	}
	rows := make([]store.Discovered, 0, len(order))
	for _, id := range order {
		rows = append(rows, store.Discovered{ID: id, Depth: depth, Seen: seen[id]})
	}

	return p.pool.Submit(ctx, func(ctx context.Context) {
		p.processDiscovery(ctx, accountID, rows)
	})
}

func (p *Processor) processDiscovery(ctx context.Context, accountID int64, rows []store.Discovered) {
	err := func() error {
		for start := 0; start < len(rows); start += p.batchSize {
			end := start + p.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := p.store.UpsertDiscovered(ctx, rows[start:end]); err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		// New accounts may carry ids below the collect cursor; rewind it so
		// the walk picks them up without waiting for a wrap.
		return p.store.SetCollectCursor(ctx, -1)
	}()
	if err != nil {
		p.log.Error("process discovery", zap.Int64("account_id", accountID), zap.Error(err))
		telemetry.ObserveSubmission("discovery", "failed")
		if rbErr := p.store.RollbackDiscovery(ctx, accountID); rbErr != nil {
			p.log.Error("rollback discovery", zap.Int64("account_id", accountID), zap.Error(rbErr))
		}
		return
	}
	telemetry.ObserveSubmission("discovery", "ok")
	p.publish(ctx, events.KindDiscoveryProcessed, accountID, int64(len(rows)))
}

func resolveDepth(nextDepth, parentDepth, storedDepth *int) int {
	switch {
	case nextDepth != nil && *nextDepth > 0:
		return *nextDepth
	case parentDepth != nil && *parentDepth >= 0:
		return *parentDepth + 1
	case storedDepth != nil:
		return *storedDepth + 1
	default:
		return 1
	}
}

func (p *Processor) publish(ctx context.Context, kind events.Kind, accountID, count int64) {
	if p.pub == nil {
		return
	}
	_, err := p.pub.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: accountID,
		Count:     count,
		At:        p.clock.Now(),
	})
	if err != nil {
		p.log.Warn("publish submission event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
