package postgres

import (
	"context"
	"fmt"

	"github.com/dotagraph/coordinator/internal/store"
)

// MergeHeroStats upserts fact rows. An incoming row only overwrites when its
// match count is at least the stored one, which keeps a stale resubmission
// from clobbering a fresher result while staying idempotent for duplicates.
func (s *Store) MergeHeroStats(ctx context.Context, rows []store.HeroStat) error {
	if len(rows) == 0 {
		return nil
	}
	accountIDs := make([]int64, len(rows))
	heroIDs := make([]int32, len(rows))
	matches := make([]int32, len(rows))
	wins := make([]int32, len(rows))
	for i, row := range rows {
		accountIDs[i] = row.AccountID
		heroIDs[i] = row.HeroID
		matches[i] = int32(row.Matches)
		wins[i] = int32(row.Wins)
	}
	if _, err := s.exec(ctx, `
INSERT INTO hero_stats (account_id, hero_id, matches, wins)
SELECT t.account_id, t.hero_id, t.matches, t.wins
FROM UNNEST($1::bigint[], $2::int[], $3::int[], $4::int[])
	AS t(account_id, hero_id, matches, wins)
ON CONFLICT (account_id, hero_id) DO UPDATE
SET matches = excluded.matches, wins = excluded.wins
WHERE excluded.matches >= hero_stats.matches`, accountIDs, heroIDs, matches, wins); err != nil {
		return fmt.Errorf("merge hero stats: %w", err)
	}
	return nil
}

// HeroStats reads the stored rows for one account restricted to heroIDs.
func (s *Store) HeroStats(ctx context.Context, accountID int64, heroIDs []int32) ([]store.HeroStat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT account_id, hero_id, matches, wins
FROM hero_stats
WHERE account_id = $1 AND hero_id = ANY($2)`, accountID, heroIDs)
	if err != nil {
		return nil, fmt.Errorf("query hero stats: %w", err)
	}
	defer rows.Close()

	var out []store.HeroStat
	for rows.Next() {
		var row store.HeroStat
		if err := rows.Scan(&row.AccountID, &row.HeroID, &row.Matches, &row.Wins); err != nil {
			return nil, fmt.Errorf("scan hero stat: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hero stats: %w", err)
	}
	return out, nil
}

// OverallBest returns per-account totals across all heroes, best first.
func (s *Store) OverallBest(ctx context.Context, limit int) ([]store.AccountTotals, error) {
	rows, err := s.pool.Query(ctx, `
SELECT account_id, SUM(matches), SUM(wins)
FROM hero_stats
GROUP BY account_id
ORDER BY SUM(matches) DESC, SUM(wins) DESC, account_id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query overall best: %w", err)
	}
	defer rows.Close()

	var out []store.AccountTotals
	for rows.Next() {
		var t store.AccountTotals
		if err := rows.Scan(&t.AccountID, &t.Matches, &t.Wins); err != nil {
			return nil, fmt.Errorf("scan overall best: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overall best: %w", err)
	}
	return out, nil
}
