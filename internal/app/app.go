// Package app initializes and holds the coordinator's long-lived services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/clock"
	"github.com/dotagraph/coordinator/internal/clock/system"
	"github.com/dotagraph/coordinator/internal/config"
	"github.com/dotagraph/coordinator/internal/events"
	"github.com/dotagraph/coordinator/internal/events/pubsub"
	"github.com/dotagraph/coordinator/internal/logging"
	"github.com/dotagraph/coordinator/internal/scheduler"
	"github.com/dotagraph/coordinator/internal/storage/memory"
	"github.com/dotagraph/coordinator/internal/storage/postgres"
	"github.com/dotagraph/coordinator/internal/store"
)

// App holds the shared, long-lived services: logger, store, publisher and
// scheduler. It is initialized once at startup and fails fast when any
// critical service cannot be built.
type App struct {
	Log       *zap.Logger
	Store     store.Store
	Publisher events.Publisher
	Scheduler *scheduler.Scheduler
	Config    config.Config
}

// New builds the service graph from configuration. The Postgres backend is
// bootstrapped (schema plus root seed) before the scheduler is constructed.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := buildStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var pub events.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, err = pubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		log.Info("pubsub publisher enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName))
	}

	var clk clock.Clock = system.New()
	sched := scheduler.New(st, clk, pub, log, scheduler.Config{
		RefreshEvery:    cfg.Scheduler.RefreshEvery,
		DiscoverEvery:   cfg.Scheduler.DiscoverEvery,
		ClaimTimeout:    cfg.Scheduler.ClaimTimeout(),
		SweepInterval:   cfg.Scheduler.SweepInterval(),
		RebuildInterval: cfg.Scheduler.RebuildInterval(),
		LeaderboardSize: cfg.Scheduler.LeaderboardSize,
		Workers:         cfg.Scheduler.SubmissionWorkers,
		QueueDepth:      cfg.Scheduler.SubmissionQueue,
		BatchSize:       cfg.Scheduler.DiscoveryBatchSize,
	})

	return &App{
		Log:       log,
		Store:     st,
		Publisher: pub,
		Scheduler: sched,
		Config:    cfg,
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		log.Info("connecting to postgres")
		st, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: cfg.DB.ConnLifetime(),
			RetryInterval:   cfg.DB.RetryInterval(),
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := st.Bootstrap(ctx, 0); err != nil {
			st.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
		if err := seedRoots(ctx, st, cfg, log); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "memory":
		log.Info("using in-memory store; state is lost on restart")
		st := memory.New()
		if err := seedRoots(ctx, st, cfg, log); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func seedRoots(ctx context.Context, st store.Store, cfg config.Config, log *zap.Logger) error {
	start := cfg.Scheduler.RootAccountID
	end := start + cfg.Scheduler.SeedCount - 1
	inserted, err := st.Seed(ctx, start, end)
	if err != nil {
		return fmt.Errorf("seed root accounts: %w", err)
	}
	if inserted > 0 {
		log.Info("seeded root accounts",
			zap.Int64("start", start), zap.Int64("end", end), zap.Int64("inserted", inserted))
	}
	return nil
}

// Close gracefully shuts down the services. The scheduler is stopped first
// so background writes finish before the store closes.
func (a *App) Close() {
	a.Scheduler.Stop()
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Log.Warn("close publisher", zap.Error(err))
		}
	}
	a.Store.Close()
	_ = a.Log.Sync() // best-effort flush
}
