package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Meta keys. One row each in scheduler_meta.
const (
	metaAssignCounter = "task_assignment_counter"
	metaCollectCursor = "hero_assignment_cursor"
	metaSweepStamp    = "last_assignment_cleanup"
)

// IncrementAssignCounter atomically bumps the counter in a single upsert so
// concurrent schedulers never observe the same value.
func (s *Store) IncrementAssignCounter(ctx context.Context) (int64, error) {
	var value int64
	err := s.queryRowScan(ctx, `
INSERT INTO scheduler_meta (key, value)
VALUES ($1, '1')
ON CONFLICT (key) DO UPDATE
SET value = (scheduler_meta.value::bigint + 1)::text
RETURNING value::bigint`, []any{metaAssignCounter}, &value)
	if err != nil {
		return 0, fmt.Errorf("increment assignment counter: %w", err)
	}
	return value, nil
}

// CollectCursor returns the persisted collect cursor, -1 when unset.
func (s *Store) CollectCursor(ctx context.Context) (int64, error) {
	var raw string
	err := s.queryRowScan(ctx, `
SELECT value FROM scheduler_meta WHERE key = $1`, []any{metaCollectCursor}, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read collect cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A mangled cursor only costs a scan from the start.
		return -1, nil
	}
	return cursor, nil
}

// SetCollectCursor persists the collect cursor.
func (s *Store) SetCollectCursor(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `
INSERT INTO scheduler_meta (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		metaCollectCursor, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("persist collect cursor: %w", err)
	}
	return nil
}

// TryAdvanceSweepStamp advances the reclaim stamp only when the stored stamp
// is older than now minus interval. The conditional upsert makes the check
// and the write one atomic statement, so processes sharing a store do not
// thrash the sweep.
func (s *Store) TryAdvanceSweepStamp(ctx context.Context, now time.Time, interval time.Duration) (bool, error) {
	tag, err := s.exec(ctx, `
INSERT INTO scheduler_meta (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE
SET value = excluded.value
WHERE scheduler_meta.value::timestamptz <= $3::timestamptz`,
		metaSweepStamp,
		now.UTC().Format(time.RFC3339Nano),
		now.Add(-interval).UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("advance sweep stamp: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
