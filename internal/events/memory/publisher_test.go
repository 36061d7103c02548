package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotagraph/coordinator/internal/events"
)

func TestPublishRecordsEventsInOrder(t *testing.T) {
	t.Parallel()
	p := New()

	id1, err := p.Publish(context.Background(), events.Event{
		ID:        "a",
		Kind:      events.KindHeroStatsProcessed,
		AccountID: 7,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	id2, err := p.Publish(context.Background(), events.Event{
		ID:   "b",
		Kind: events.KindAssignmentsSwept,
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got := p.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, events.KindAssignmentsSwept, got[1].Kind)
}

func TestEventsReturnsACopy(t *testing.T) {
	t.Parallel()
	p := New()

	_, err := p.Publish(context.Background(), events.Event{ID: "a"})
	require.NoError(t, err)

	snapshot := p.Events()
	snapshot[0].ID = "mutated"

	assert.Equal(t, "a", p.Events()[0].ID)
}

func TestPublishIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	p := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Publish(context.Background(), events.Event{Kind: events.KindDiscoveryProcessed})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, p.Events(), 50)
	assert.NoError(t, p.Close())
}
