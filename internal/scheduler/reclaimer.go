package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/clock"
	"github.com/dotagraph/coordinator/internal/events"
	"github.com/dotagraph/coordinator/internal/store"
	"github.com/dotagraph/coordinator/internal/telemetry"
)

// Reclaimer releases assignments whose workers went silent. Browser workers
// disappear without notice, so any claim older than the timeout is treated
// as abandoned and handed back to the pool.
type Reclaimer struct {
	store    store.Store
	clock    clock.Clock
	pub      events.Publisher
	timeout  time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewReclaimer(st store.Store, clk clock.Clock, pub events.Publisher, timeout, interval time.Duration, log *zap.Logger) *Reclaimer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{
		store:    st,
		clock:    clk,
		pub:      pub,
		timeout:  timeout,
		interval: interval,
		log:      log,
	}
}

// Sweep releases every assignment claimed at or before now-timeout and
// returns how many were released.
func (r *Reclaimer) Sweep(ctx context.Context) (int64, error) {
	now := r.clock.Now()
	released, err := r.store.ReleaseStale(ctx, now.Add(-r.timeout))
	if err != nil {
		return 0, err
	}
	if released > 0 {
		telemetry.ObserveReclaimed(released)
		r.log.Info("released stale assignments", zap.Int64("count", released))
		r.publish(ctx, released)
	}
	return released, nil
}

// MaybeSweep runs a sweep only when the persisted sweep stamp says the
// interval has elapsed. The stamp advances atomically, so concurrent
// coordinator replicas elect exactly one sweeper per interval.
func (r *Reclaimer) MaybeSweep(ctx context.Context) (int64, bool, error) {
	due, err := r.store.TryAdvanceSweepStamp(ctx, r.clock.Now(), r.interval)
	if err != nil {
		return 0, false, err
	}
	if !due {
		return 0, false, nil
	}
	released, err := r.Sweep(ctx)
	return released, true, err
}

// Run sweeps on a ticker until the context is canceled. Sweep failures are
// logged and retried on the next tick.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.MaybeSweep(ctx); err != nil {
				r.log.Error("reclaim sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reclaimer) publish(ctx context.Context, released int64) {
	if r.pub == nil {
		return
	}
	_, err := r.pub.Publish(ctx, events.Event{
		ID:    uuid.NewString(),
		Kind:  events.KindAssignmentsSwept,
		Count: released,
		At:    r.clock.Now(),
	})
	if err != nil {
		r.log.Warn("publish sweep event", zap.Error(err))
	}
}
