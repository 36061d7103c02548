package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/clock"
	"github.com/dotagraph/coordinator/internal/store"
	"github.com/dotagraph/coordinator/internal/telemetry"
)

// assignState drives one pass of the assignment decision. The sequence is
// fixed: interval-due discovery, interval-due refresh, the cursor walk over
// unfinished hero collection, then discovery as a fallback when collection
// has nothing left.
type assignState int

const (
	stateCheckDiscoveryDue assignState = iota
	stateCheckRefreshDue
	stateCheckCollect
	stateFallbackDiscovery
	stateNoTask
)

// Policy decides what a worker should do next. Every call advances a
// persisted counter; refresh and discovery work is interleaved with the
// collection walk at fixed intervals of that counter so neither starves
// while the frontier keeps growing.
type Policy struct {
	store         store.Store
	clock         clock.Clock
	refreshEvery  int64
	discoverEvery int64
	log           *zap.Logger
}

func NewPolicy(st store.Store, clk clock.Clock, refreshEvery, discoverEvery int64, log *zap.Logger) *Policy {
	if refreshEvery <= 0 {
		refreshEvery = 10
	}
	if discoverEvery <= 0 {
		discoverEvery = 100
	}
	return &Policy{
		store:         st,
		clock:         clk,
		refreshEvery:  refreshEvery,
		discoverEvery: discoverEvery,
		log:           log,
	}
}

// Next returns the next task to hand out, or nil when there is no work.
// When a pass finds nothing and neither interval fired, the counter is
// advanced and the pass repeats; a refresh boundary is hit within
// refreshEvery iterations, so the loop is bounded.
func (p *Policy) Next(ctx context.Context) (store.Task, error) {
	for {
		n, err := p.store.IncrementAssignCounter(ctx)
		if err != nil {
			return nil, err
		}
		discoveryDue := n%p.discoverEvery == 0
		refreshDue := n%p.refreshEvery == 0

		task, err := p.pass(ctx, discoveryDue, refreshDue)
		if err != nil {
			return nil, err
		}
		if task != nil {
			telemetry.ObserveTaskAssigned(string(task.Kind()))
			return task, nil
		}
		if discoveryDue || refreshDue {
			telemetry.ObserveNoTask()
			return nil, nil
		}
	}
}

func (p *Policy) pass(ctx context.Context, discoveryDue, refreshDue bool) (store.Task, error) {
	state := stateCheckDiscoveryDue
	for {
		switch state {
		case stateCheckDiscoveryDue:
			if discoveryDue {
				task, err := p.claimDiscovery(ctx, true)
				if err != nil {
					return nil, err
				}
				if task != nil {
					return task, nil
				}
			}
			state = stateCheckRefreshDue

		case stateCheckRefreshDue:
			if refreshDue {
				claimed, err := p.store.ClaimRefresh(ctx, p.clock.Now())
				if err != nil {
					return nil, err
				}
				if claimed != nil {
					return store.CollectHeroStats{AccountID: claimed.ID}, nil
				}
			}
			state = stateCheckCollect

		case stateCheckCollect:
			task, err := p.claimCollect(ctx)
			if err != nil {
				return nil, err
			}
			if task != nil {
				return task, nil
			}
			state = stateFallbackDiscovery

		case stateFallbackDiscovery:
			if !discoveryDue {
				pending, err := p.store.CollectPending(ctx)
				if err != nil {
					return nil, err
				}
				if !pending {
					// Collection is exhausted; pull discovery work forward
					// instead of idling until the interval fires.
					task, err := p.claimDiscovery(ctx, false)
					if err != nil {
						return nil, err
					}
					if task != nil {
						return task, nil
					}
				}
			}
			state = stateNoTask

		case stateNoTask:
			return nil, nil
		}
	}
}

// claimDiscovery claims the next frontier account in BFS order. When the
// interval-due path finds the frontier exhausted it restarts the discovery
// cycle so the graph is re-walked for new neighbors, then claims again.
func (p *Policy) claimDiscovery(ctx context.Context, restartOnEmpty bool) (store.Task, error) {
	claimed, err := p.store.ClaimDiscovery(ctx, p.clock.Now())
	if err != nil {
		return nil, err
	}
	if claimed == nil && restartOnEmpty {
		if err := p.store.RestartDiscoveryCycle(ctx); err != nil {
			return nil, err
		}
		telemetry.ObserveDiscoveryRestart()
		p.log.Info("discovery cycle restarted")
		claimed, err = p.store.ClaimDiscovery(ctx, p.clock.Now())
		if err != nil {
			return nil, err
		}
	}
	if claimed == nil {
		return nil, nil
	}
	return store.DiscoverMatches{
		AccountID:      claimed.ID,
		Depth:          claimed.Depth,
		HighestMatchID: claimed.HighestMatchID,
	}, nil
}

// claimCollect walks accounts in id order from the persisted cursor,
// wrapping to the start once when the tail is exhausted.
func (p *Policy) claimCollect(ctx context.Context) (store.Task, error) {
	cursor, err := p.store.CollectCursor(ctx)
	if err != nil {
		return nil, err
	}
	claimed, err := p.store.ClaimCollect(ctx, cursor)
	if err != nil {
		return nil, err
	}
	if claimed == nil && cursor >= 0 {
		claimed, err = p.store.ClaimCollect(ctx, -1)
		if err != nil {
			return nil, err
		}
	}
	if claimed == nil {
		return nil, nil
	}
	if err := p.store.SetCollectCursor(ctx, claimed.ID); err != nil {
		// The cursor is an optimization; a stale value only costs a wrap.
		p.log.Warn("persist collect cursor", zap.Int64("account_id", claimed.ID), zap.Error(err))
	}
	return store.CollectHeroStats{AccountID: claimed.ID}, nil
}
