// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dotagraph/coordinator/internal/events"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []events.Event
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo id.
func (p *Publisher) Publish(_ context.Context, event events.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []events.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close implements events.Publisher; nothing to release.
func (p *Publisher) Close() error { return nil }
