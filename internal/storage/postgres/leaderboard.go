package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dotagraph/coordinator/internal/store"
)

// LeaderboardEntries returns an account's existing projection rows for the
// given heroes.
func (s *Store) LeaderboardEntries(ctx context.Context, accountID int64, heroIDs []int32) ([]store.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hero_id, account_id, matches, wins
FROM hero_top100
WHERE account_id = $1 AND hero_id = ANY($2)`, accountID, heroIDs)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard entries: %w", err)
	}
	defer rows.Close()

	var out []store.LeaderboardEntry
	for rows.Next() {
		var e store.LeaderboardEntry
		if err := rows.Scan(&e.HeroID, &e.AccountID, &e.Matches, &e.Wins); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard entries: %w", err)
	}
	return out, nil
}

// LeaderboardSizes returns the projection row count per hero.
func (s *Store) LeaderboardSizes(ctx context.Context, heroIDs []int32) (map[int32]int, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hero_id, COUNT(*)
FROM hero_top100
WHERE hero_id = ANY($1)
GROUP BY hero_id`, heroIDs)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard sizes: %w", err)
	}
	defer rows.Close()

	out := make(map[int32]int)
	for rows.Next() {
		var (
			heroID int32
			count  int
		)
		if err := rows.Scan(&heroID, &count); err != nil {
			return nil, fmt.Errorf("scan leaderboard size: %w", err)
		}
		out[heroID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard sizes: %w", err)
	}
	return out, nil
}

// LeaderboardThresholds returns the row at the given rank per hero.
func (s *Store) LeaderboardThresholds(ctx context.Context, heroIDs []int32, rank int) (map[int32]store.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hero_id, account_id, matches, wins
FROM (
	SELECT hero_id, account_id, matches, wins,
		ROW_NUMBER() OVER (
			PARTITION BY hero_id
			ORDER BY matches DESC, wins DESC, account_id ASC
		) AS rn
	FROM hero_top100
	WHERE hero_id = ANY($1)
) ranked
WHERE rn = $2`, heroIDs, rank)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[int32]store.LeaderboardEntry)
	for rows.Next() {
		var e store.LeaderboardEntry
		if err := rows.Scan(&e.HeroID, &e.AccountID, &e.Matches, &e.Wins); err != nil {
			return nil, fmt.Errorf("scan leaderboard threshold: %w", err)
		}
		out[e.HeroID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard thresholds: %w", err)
	}
	return out, nil
}

// UpdateLeaderboardEntry rewrites an existing row in place.
func (s *Store) UpdateLeaderboardEntry(ctx context.Context, entry store.LeaderboardEntry) error {
	tag, err := s.exec(ctx, `
UPDATE hero_top100
SET matches = $3, wins = $4
WHERE hero_id = $1 AND account_id = $2`,
		entry.HeroID, entry.AccountID, entry.Matches, entry.Wins)
	if err != nil {
		return fmt.Errorf("update leaderboard entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertLeaderboardEntry adds a row.
func (s *Store) InsertLeaderboardEntry(ctx context.Context, entry store.LeaderboardEntry) error {
	if _, err := s.exec(ctx, `
INSERT INTO hero_top100 (hero_id, account_id, matches, wins)
VALUES ($1, $2, $3, $4)`,
		entry.HeroID, entry.AccountID, entry.Matches, entry.Wins); err != nil {
		return fmt.Errorf("insert leaderboard entry: %w", err)
	}
	return nil
}

// EvictLowest deletes the lowest-ranked row for a hero, evicting the highest
// account id among ties.
func (s *Store) EvictLowest(ctx context.Context, heroID int32) error {
	if _, err := s.exec(ctx, `
DELETE FROM hero_top100
WHERE ctid = (
	SELECT ctid
	FROM hero_top100
	WHERE hero_id = $1
	ORDER BY matches ASC, wins ASC, account_id DESC
	LIMIT 1
)`, heroID); err != nil {
		return fmt.Errorf("evict leaderboard row: %w", err)
	}
	return nil
}

// Leaderboard returns a hero's rows best first.
func (s *Store) Leaderboard(ctx context.Context, heroID int32, limit int) ([]store.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hero_id, account_id, matches, wins
FROM hero_top100
WHERE hero_id = $1
ORDER BY matches DESC, wins DESC, account_id ASC
LIMIT $2`, heroID, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []store.LeaderboardEntry
	for rows.Next() {
		var e store.LeaderboardEntry
		if err := rows.Scan(&e.HeroID, &e.AccountID, &e.Matches, &e.Wins); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return out, nil
}

// LeaderboardEmpty reports whether the projection holds no rows.
func (s *Store) LeaderboardEmpty(ctx context.Context) (bool, error) {
	var one int
	err := s.queryRowScan(ctx, `SELECT 1 FROM hero_top100 LIMIT 1`, nil, &one)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check leaderboard empty: %w", err)
	}
	return false, nil
}

// RebuildLeaderboard recomputes the projection from the fact table in one
// transaction: delete everything, reinsert the top rows per hero.
func (s *Store) RebuildLeaderboard(ctx context.Context, size int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin leaderboard rebuild: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM hero_top100`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hero_top100 (hero_id, account_id, matches, wins)
SELECT hero_id, account_id, matches, wins
FROM (
	SELECT hero_id, account_id, matches, wins,
		ROW_NUMBER() OVER (
			PARTITION BY hero_id
			ORDER BY matches DESC, wins DESC, account_id ASC
		) AS rn
	FROM hero_stats
) ranked
WHERE ranked.rn <= $1`, size); err != nil {
		return fmt.Errorf("repopulate leaderboard: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit leaderboard rebuild: %w", err)
	}
	return nil
}
