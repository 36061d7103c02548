package memory

import (
	"context"
	"sort"

	"github.com/dotagraph/coordinator/internal/store"
)

// MergeHeroStats upserts fact rows with the keep-larger-matches rule.
func (s *Store) MergeHeroStats(_ context.Context, rows []store.HeroStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		byHero, ok := s.heroStats[row.AccountID]
		if !ok {
			byHero = make(map[int32]store.HeroStat)
			s.heroStats[row.AccountID] = byHero
		}
		existing, ok := byHero[row.HeroID]
		if ok && existing.Matches > row.Matches {
			continue
		}
		byHero[row.HeroID] = row
	}
	return nil
}

// HeroStats reads back stored rows for one account, restricted to heroIDs.
func (s *Store) HeroStats(_ context.Context, accountID int64, heroIDs []int32) ([]store.HeroStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHero := s.heroStats[accountID]
	out := make([]store.HeroStat, 0, len(heroIDs))
	for _, heroID := range heroIDs {
		if row, ok := byHero[heroID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// OverallBest sums matches and wins per account across every hero.
func (s *Store) OverallBest(_ context.Context, limit int) ([]store.AccountTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make([]store.AccountTotals, 0, len(s.heroStats))
	for accountID, byHero := range s.heroStats {
		t := store.AccountTotals{AccountID: accountID}
		for _, row := range byHero {
			t.Matches += row.Matches
			t.Wins += row.Wins
		}
		totals = append(totals, t)
	}
	sort.Slice(totals, func(i, j int) bool {
		a, b := totals[i], totals[j]
		if a.Matches != b.Matches {
			return a.Matches > b.Matches
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.AccountID < b.AccountID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}
