// Package events defines the coordinator's outbound notification surface.
// Publishers are best effort: scheduling never fails because a notification
// could not be delivered.
package events

import (
	"context"
	"time"
)

// Kind labels the event types the coordinator emits.
type Kind string

// Event kinds.
const (
	KindHeroStatsProcessed Kind = "hero_stats_processed"
	KindDiscoveryProcessed Kind = "discovery_processed"
	KindAssignmentsSwept   Kind = "assignments_swept"
)

// Event is one coordinator notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	AccountID int64     `json:"accountId,omitempty"`
	Count     int64     `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events to an external sink.
type Publisher interface {
	// Publish delivers one event and returns the sink's message id.
	Publish(ctx context.Context, event Event) (string, error)

	// Close releases the publisher's resources.
	Close() error
}
