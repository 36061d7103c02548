package memory

import (
	"context"
	"time"
)

// IncrementAssignCounter bumps the assignment counter and returns it.
func (s *Store) IncrementAssignCounter(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

// CollectCursor returns the persisted collect cursor, -1 when unset.
func (s *Store) CollectCursor(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

// SetCollectCursor persists the collect cursor.
func (s *Store) SetCollectCursor(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = id
	return nil
}

// TryAdvanceSweepStamp advances the reclaim stamp iff the stored one is older
// than now minus interval.
func (s *Store) TryAdvanceSweepStamp(_ context.Context, now time.Time, interval time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sweepAt.IsZero() && now.Sub(s.sweepAt) < interval {
		return false, nil
	}
	s.sweepAt = now
	return true, nil
}
