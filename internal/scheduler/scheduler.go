// Package scheduler implements task assignment for a fleet of untrusted,
// transient workers crawling the account graph: interval-interleaved
// discovery, refresh and collection claims, asynchronous submission
// processing, stale-claim reclamation and bounded leaderboard maintenance.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/clock"
	"github.com/dotagraph/coordinator/internal/events"
	"github.com/dotagraph/coordinator/internal/store"
)

// Config carries the scheduler's tunables. Zero values fall back to the
// defaults noted per field.
type Config struct {
	RefreshEvery    int64         // refresh claim every Nth assignment call (10)
	DiscoverEvery   int64         // discovery claim every Nth assignment call (100)
	ClaimTimeout    time.Duration // claim age before reclamation (10m)
	SweepInterval   time.Duration // reclamation cadence (1m)
	RebuildInterval time.Duration // full leaderboard rebuild cadence (12h)
	LeaderboardSize int           // rows kept per hero (100)
	Workers         int           // submission pool goroutines (4)
	QueueDepth      int           // submission pool queue bound (256)
	BatchSize       int           // neighbor upsert batch size (500)
}

func (c Config) withDefaults() Config {
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = 10
	}
	if c.DiscoverEvery <= 0 {
		c.DiscoverEvery = 100
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RebuildInterval <= 0 {
		c.RebuildInterval = 12 * time.Hour
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Scheduler ties the assignment policy, submission processor, reclaimer and
// leaderboard maintainer together and owns their background lifecycle.
type Scheduler struct {
	store     store.Store
	policy    *Policy
	processor *Processor
	reclaimer *Reclaimer
	board     *Maintainer
	pool      *workerPool
	cfg       Config
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st store.Store, clk clock.Clock, pub events.Publisher, log *zap.Logger, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	pool := newWorkerPool(cfg.Workers, cfg.QueueDepth, log)
	board := NewMaintainer(st, cfg.LeaderboardSize, log)
	return &Scheduler{
		store:     st,
		policy:    NewPolicy(st, clk, cfg.RefreshEvery, cfg.DiscoverEvery, log),
		processor: NewProcessor(st, board, clk, pool, pub, cfg.BatchSize, log),
		reclaimer: NewReclaimer(st, clk, pub, cfg.ClaimTimeout, cfg.SweepInterval, log),
		board:     board,
		pool:      pool,
		cfg:       cfg,
		log:       log,
	}
}

// Start launches the submission pool and the reclamation and rebuild loops.
// Before the first request is served, an empty leaderboard is backfilled and
// claims abandoned across a restart are swept back to the pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if err := s.board.RebuildIfEmpty(ctx); err != nil {
		return err
	}
	// Workers may have vanished while the process was down; release any
	// timed-out claims they left behind before tasks are handed out again.
	if _, err := s.reclaimer.Sweep(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pool.Start(runCtx, s.cfg.Workers)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.reclaimer.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.rebuildLoop(runCtx)
	}()
	return nil
}

// Stop drains the submission queue and stops the background loops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	s.pool.Stop()
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) rebuildLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.board.Rebuild(ctx); err != nil {
				s.log.Error("leaderboard rebuild failed", zap.Error(err))
			}
		}
	}
}

// RequestTask returns the next task for a worker, or nil when there is no
// work right now.
func (s *Scheduler) RequestTask(ctx context.Context) (store.Task, error) {
	return s.policy.Next(ctx)
}

// SubmitHeroStats accepts a hero-stats result for a claimed account.
func (s *Scheduler) SubmitHeroStats(ctx context.Context, accountID int64, rows []HeroStatRow) error {
	return s.processor.SubmitHeroStats(ctx, accountID, rows)
}

// SubmitDiscovery accepts a discovery result for a claimed account.
func (s *Scheduler) SubmitDiscovery(ctx context.Context, accountID int64, neighbors []Neighbor, nextDepth, parentDepth *int, highestMatchID *int64) error {
	return s.processor.SubmitDiscovery(ctx, accountID, neighbors, nextDepth, parentDepth, highestMatchID)
}

// ResetTask administratively releases an account's claim.
func (s *Scheduler) ResetTask(ctx context.Context, accountID int64, kind store.TaskKind) error {
	return s.store.ResetTask(ctx, accountID, kind)
}

// Sweep forces an immediate stale-claim sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	return s.reclaimer.Sweep(ctx)
}

// Seed inserts the id range [startID, endID] as depth-0 roots.
func (s *Scheduler) Seed(ctx context.Context, startID, endID int64) (int64, error) {
	return s.store.Seed(ctx, startID, endID)
}

// Progress reports crawl completion counts.
func (s *Scheduler) Progress(ctx context.Context) (store.Progress, error) {
	return s.store.Progress(ctx)
}

// Leaderboard returns a hero's top rows, best first.
func (s *Scheduler) Leaderboard(ctx context.Context, heroID int32) ([]store.LeaderboardEntry, error) {
	return s.store.Leaderboard(ctx, heroID, s.cfg.LeaderboardSize)
}

// OverallBest returns the accounts with the most matches across all heroes.
func (s *Scheduler) OverallBest(ctx context.Context, limit int) ([]store.AccountTotals, error) {
	if limit <= 0 || limit > s.cfg.LeaderboardSize {
		limit = s.cfg.LeaderboardSize
	}
	return s.store.OverallBest(ctx, limit)
}
