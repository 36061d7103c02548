package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/telemetry"
)

// workerPool runs submission processing off the request path on a fixed
// number of goroutines. The queue is bounded; a burst of submissions blocks
// the producer instead of spawning unbounded write transactions.
type workerPool struct {
	jobs chan func(context.Context)
	wg   sync.WaitGroup

	// closeMu serializes Submit against Stop so a submit never races the
	// channel close. Producers hold the read side for the whole send.
	closeMu sync.RWMutex
	closed  bool
	log     *zap.Logger
}

func newWorkerPool(workers, depth int, log *zap.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1
	}
	return &workerPool{
		jobs: make(chan func(context.Context), depth),
		log:  log,
	}
}

// Start launches the worker goroutines. Jobs run with the pool's base
// context so in-flight work survives request cancellation but stops on
// shutdown.
func (p *workerPool) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				telemetry.SetSubmissionQueueDepth(len(p.jobs))
				job(ctx)
			}
		}()
	}
}

// Submit enqueues a job, blocking while the queue is full.
func (p *workerPool) Submit(ctx context.Context, job func(context.Context)) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return fmt.Errorf("submission pool is stopped")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("submit canceled: %w", ctx.Err())
	case p.jobs <- job:
		telemetry.SetSubmissionQueueDepth(len(p.jobs))
		return nil
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *workerPool) Stop() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}
