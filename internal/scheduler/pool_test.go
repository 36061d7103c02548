package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPoolRunsQueuedJobs(t *testing.T) {
	t.Parallel()
	p := newWorkerPool(2, 8, zap.NewNop())
	p.Start(context.Background(), 2)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			ran.Add(1)
		}))
	}
	p.Stop()
	assert.Equal(t, int32(10), ran.Load(), "Stop waits for queued jobs")
}

func TestWorkerPoolRejectsAfterStop(t *testing.T) {
	t.Parallel()
	p := newWorkerPool(1, 1, zap.NewNop())
	p.Start(context.Background(), 1)
	p.Stop()

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.Error(t, err)
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	t.Parallel()
	p := newWorkerPool(1, 1, zap.NewNop())
	// Not started: the queue fills and the second submit must block until
	// its context is canceled.
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.Error(t, err)
	p.Start(context.Background(), 1)
	p.Stop()
}
