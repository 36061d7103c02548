package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dotagraph/coordinator/internal/store"
)

// Seed bulk-inserts accounts in [startID, endID] at depth 0.
func (s *Store) Seed(ctx context.Context, startID, endID int64) (int64, error) {
	tag, err := s.exec(ctx, `
INSERT INTO accounts (account_id, depth)
SELECT id, 0 FROM generate_series($1::bigint, $2::bigint) AS id
ON CONFLICT (account_id) DO NOTHING`, startID, endID)
	if err != nil {
		return 0, fmt.Errorf("seed accounts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns one account row.
func (s *Store) Get(ctx context.Context, id int64) (store.Account, error) {
	var (
		acct       store.Account
		assignedTo *string
	)
	err := s.queryRowScan(ctx, `
SELECT account_id, depth, assigned_to, assigned_at, hero_refreshed_at,
	hero_done, discover_done, seen_count, highest_match_id
FROM accounts
WHERE account_id = $1`, []any{id},
		&acct.ID, &acct.Depth, &assignedTo, &acct.AssignedAt, &acct.HeroRefreshedAt,
		&acct.HeroDone, &acct.DiscoverDone, &acct.SeenCount, &acct.HighestMatchID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Account{}, store.ErrNotFound
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("get account: %w", err)
	}
	if assignedTo != nil {
		acct.AssignedTo = store.Assignment(*assignedTo)
	}
	return acct, nil
}

// scanClaim reads the RETURNING row of a claim statement. A claim that found
// no candidate returns (nil, nil).
func (s *Store) scanClaim(ctx context.Context, sql string, args ...any) (*store.Claimed, error) {
	var c store.Claimed
	err := s.queryRowScan(ctx, sql, args, &c.ID, &c.Depth, &c.HighestMatchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClaimCollect claims the lowest-id hero-incomplete unclaimed account past
// afterID. The inner SELECT skips rows locked by concurrent claimers; the
// outer UPDATE rechecks the claim condition so the statement is atomic.
func (s *Store) ClaimCollect(ctx context.Context, afterID int64) (*store.Claimed, error) {
	claimed, err := s.scanClaim(ctx, `
WITH candidate AS (
	SELECT account_id
	FROM accounts
	WHERE hero_done = FALSE
	  AND assigned_to IS NULL
	  AND account_id > $1
	ORDER BY account_id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE accounts a
SET assigned_to = 'hero', assigned_at = NOW()
FROM candidate c
WHERE a.account_id = c.account_id
  AND a.hero_done = FALSE
  AND a.assigned_to IS NULL
RETURNING a.account_id, COALESCE(a.depth, 0), COALESCE(a.highest_match_id, 0)`, afterID)
	if err != nil {
		return nil, fmt.Errorf("claim collect: %w", err)
	}
	return claimed, nil
}

// ClaimRefresh claims the completed account with the oldest refresh stamp and
// flips its hero flag back pending the new result.
func (s *Store) ClaimRefresh(ctx context.Context, now time.Time) (*store.Claimed, error) {
	claimed, err := s.scanClaim(ctx, `
WITH candidate AS (
	SELECT account_id
	FROM accounts
	WHERE hero_done = TRUE
	  AND assigned_to IS NULL
	ORDER BY COALESCE(hero_refreshed_at, 'epoch'::timestamptz) ASC, account_id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE accounts a
SET hero_done = FALSE, assigned_to = 'hero', assigned_at = $1
FROM candidate c
WHERE a.account_id = c.account_id
  AND a.hero_done = TRUE
  AND a.assigned_to IS NULL
RETURNING a.account_id, COALESCE(a.depth, 0), COALESCE(a.highest_match_id, 0)`, now)
	if err != nil {
		return nil, fmt.Errorf("claim refresh: %w", err)
	}
	return claimed, nil
}

// ClaimDiscovery claims the next frontier account in BFS order, preferring
// highly-referenced accounts within a depth.
func (s *Store) ClaimDiscovery(ctx context.Context, now time.Time) (*store.Claimed, error) {
	claimed, err := s.scanClaim(ctx, `
WITH candidate AS (
	SELECT account_id
	FROM accounts
	WHERE hero_done = TRUE
	  AND discover_done = FALSE
	  AND assigned_to IS NULL
	ORDER BY COALESCE(depth, 0) ASC, seen_count DESC, account_id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE accounts a
SET assigned_to = 'discover', assigned_at = $1
FROM candidate c
WHERE a.account_id = c.account_id
  AND a.assigned_to IS NULL
RETURNING a.account_id, COALESCE(a.depth, 0), COALESCE(a.highest_match_id, 0)`, now)
	if err != nil {
		return nil, fmt.Errorf("claim discovery: %w", err)
	}
	return claimed, nil
}

// RestartDiscoveryCycle re-opens discovery store-wide once the frontier is
// exhausted. Roots keep depth 0; every other depth is nulled so BFS order is
// recomputed from rediscovery.
func (s *Store) RestartDiscoveryCycle(ctx context.Context) error {
	if _, err := s.exec(ctx, `
UPDATE accounts
SET discover_done = FALSE,
	seen_count = 0,
	depth = CASE WHEN depth = 0 THEN 0 ELSE NULL END,
	assigned_at = CASE WHEN assigned_to = 'discover' THEN NULL ELSE assigned_at END,
	assigned_to = CASE WHEN assigned_to = 'discover' THEN NULL ELSE assigned_to END`); err != nil {
		return fmt.Errorf("restart discovery cycle: %w", err)
	}
	return nil
}

// CollectPending reports whether any account still needs hero collection.
func (s *Store) CollectPending(ctx context.Context) (bool, error) {
	var one int
	err := s.queryRowScan(ctx, `SELECT 1 FROM accounts WHERE hero_done = FALSE LIMIT 1`, nil, &one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("collect pending: %w", err)
	}
	return true, nil
}

// CompleteHeroCollection acks a hero submission: flag done, stamp the refresh
// time, clear the claim.
func (s *Store) CompleteHeroCollection(ctx context.Context, id int64, now time.Time) error {
	tag, err := s.exec(ctx, `
UPDATE accounts
SET hero_done = TRUE, hero_refreshed_at = $2, assigned_to = NULL, assigned_at = NULL
WHERE account_id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("complete hero collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RollbackHeroCollection compensates a failed async hero submission.
func (s *Store) RollbackHeroCollection(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `
UPDATE accounts
SET hero_done = FALSE, hero_refreshed_at = NULL, assigned_to = NULL, assigned_at = NULL
WHERE account_id = $1`, id); err != nil {
		return fmt.Errorf("rollback hero collection: %w", err)
	}
	return nil
}

// CompleteDiscovery acks a discovery submission and merges the match-id
// watermark keep-maximum. The stored depth comes back for next-depth
// resolution.
func (s *Store) CompleteDiscovery(ctx context.Context, id int64, highestMatchID *int64) (*int, error) {
	var depth *int
	err := s.queryRowScan(ctx, `
UPDATE accounts
SET discover_done = TRUE,
	assigned_to = NULL,
	assigned_at = NULL,
	highest_match_id = CASE
		WHEN $2::bigint IS NULL THEN highest_match_id
		ELSE GREATEST(COALESCE(highest_match_id, $2::bigint), $2::bigint)
	END
WHERE account_id = $1
RETURNING depth`, []any{id, highestMatchID}, &depth)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("complete discovery: %w", err)
	}
	return depth, nil
}

// RollbackDiscovery compensates a failed async discovery submission.
func (s *Store) RollbackDiscovery(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `
UPDATE accounts
SET discover_done = FALSE, assigned_to = NULL, assigned_at = NULL
WHERE account_id = $1`, id); err != nil {
		return fmt.Errorf("rollback discovery: %w", err)
	}
	return nil
}

// UpsertDiscovered merges one batch of child rows. LEAST ignores the stored
// NULL depth, so a child discovered at any depth supersedes "unknown" and a
// shorter path supersedes a longer one.
func (s *Store) UpsertDiscovered(ctx context.Context, rows []store.Discovered) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	depths := make([]int32, len(rows))
	seen := make([]int32, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		depths[i] = int32(row.Depth)
		seen[i] = int32(row.Seen)
	}
	if _, err := s.exec(ctx, `
INSERT INTO accounts (account_id, depth, hero_done, discover_done, seen_count)
SELECT t.id, t.depth, FALSE, FALSE, t.seen
FROM UNNEST($1::bigint[], $2::int[], $3::int[]) AS t(id, depth, seen)
ON CONFLICT (account_id) DO UPDATE
SET depth = LEAST(accounts.depth, excluded.depth),
	seen_count = CASE
		WHEN accounts.discover_done = FALSE
			THEN accounts.seen_count + excluded.seen_count
		ELSE accounts.seen_count
	END
WHERE accounts.discover_done = FALSE
   OR excluded.depth < accounts.depth`, ids, depths, seen); err != nil {
		return fmt.Errorf("upsert discovered: %w", err)
	}
	return nil
}

// ResetTask administratively releases a claim. The hero variant re-derives
// the done flag from existing fact rows so a reset after a partial refresh
// does not demote a previously completed account.
func (s *Store) ResetTask(ctx context.Context, id int64, kind store.TaskKind) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch kind {
	case store.TaskCollectHeroStats:
		tag, err = s.exec(ctx, `
UPDATE accounts a
SET hero_done = EXISTS (SELECT 1 FROM hero_stats h WHERE h.account_id = a.account_id),
	hero_refreshed_at = CASE
		WHEN EXISTS (SELECT 1 FROM hero_stats h WHERE h.account_id = a.account_id)
			THEN a.hero_refreshed_at
		ELSE NULL
	END,
	assigned_to = NULL,
	assigned_at = NULL
WHERE a.account_id = $1`, id)
	case store.TaskDiscoverMatches:
		tag, err = s.exec(ctx, `
UPDATE accounts
SET discover_done = FALSE, assigned_to = NULL, assigned_at = NULL
WHERE account_id = $1`, id)
	default:
		tag, err = s.exec(ctx, `
UPDATE accounts
SET assigned_to = NULL, assigned_at = NULL
WHERE account_id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("reset task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReleaseStale clears claims stamped at or before cutoff, plus any claim that
// somehow lost its timestamp.
func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.exec(ctx, `
UPDATE accounts
SET assigned_to = NULL, assigned_at = NULL
WHERE assigned_to IS NOT NULL
  AND (assigned_at IS NULL OR assigned_at <= $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Progress returns aggregate completion counts.
func (s *Store) Progress(ctx context.Context) (store.Progress, error) {
	var p store.Progress
	err := s.queryRowScan(ctx, `
SELECT COUNT(*),
	COUNT(*) FILTER (WHERE hero_done = TRUE),
	COUNT(*) FILTER (WHERE discover_done = TRUE)
FROM accounts`, nil, &p.Total, &p.HeroDone, &p.DiscoverDone)
	if err != nil {
		return store.Progress{}, fmt.Errorf("fetch progress: %w", err)
	}
	return p, nil
}
