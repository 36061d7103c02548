package memory

import (
	"context"
	"sort"

	"github.com/dotagraph/coordinator/internal/store"
)

func rankBefore(a, b store.LeaderboardEntry) bool {
	if a.Matches != b.Matches {
		return a.Matches > b.Matches
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	return a.AccountID < b.AccountID
}

func (s *Store) rankedLocked(heroID int32) []store.LeaderboardEntry {
	rows := make([]store.LeaderboardEntry, 0, len(s.leaderboard[heroID]))
	for _, e := range s.leaderboard[heroID] {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return rankBefore(rows[i], rows[j]) })
	return rows
}

// LeaderboardEntries returns an account's existing rows for the given heroes.
func (s *Store) LeaderboardEntries(_ context.Context, accountID int64, heroIDs []int32) ([]store.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.LeaderboardEntry, 0, len(heroIDs))
	for _, heroID := range heroIDs {
		if e, ok := s.leaderboard[heroID][accountID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// LeaderboardSizes returns the row count per hero.
func (s *Store) LeaderboardSizes(_ context.Context, heroIDs []int32) (map[int32]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]int, len(heroIDs))
	for _, heroID := range heroIDs {
		if n := len(s.leaderboard[heroID]); n > 0 {
			out[heroID] = n
		}
	}
	return out, nil
}

// LeaderboardThresholds returns the entry at the given 1-based rank per hero.
func (s *Store) LeaderboardThresholds(_ context.Context, heroIDs []int32, rank int) (map[int32]store.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]store.LeaderboardEntry)
	for _, heroID := range heroIDs {
		ranked := s.rankedLocked(heroID)
		if len(ranked) >= rank && rank > 0 {
			out[heroID] = ranked[rank-1]
		}
	}
	return out, nil
}

// UpdateLeaderboardEntry rewrites an existing row in place.
func (s *Store) UpdateLeaderboardEntry(_ context.Context, entry store.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAccount, ok := s.leaderboard[entry.HeroID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := byAccount[entry.AccountID]; !ok {
		return store.ErrNotFound
	}
	byAccount[entry.AccountID] = entry
	return nil
}

// InsertLeaderboardEntry adds a row.
func (s *Store) InsertLeaderboardEntry(_ context.Context, entry store.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAccount, ok := s.leaderboard[entry.HeroID]
	if !ok {
		byAccount = make(map[int64]store.LeaderboardEntry)
		s.leaderboard[entry.HeroID] = byAccount
	}
	byAccount[entry.AccountID] = entry
	return nil
}

// EvictLowest removes the lowest-ranked row for a hero; among tied lowest
// rows the highest account id loses.
func (s *Store) EvictLowest(_ context.Context, heroID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := s.rankedLocked(heroID)
	if len(ranked) == 0 {
		return nil
	}
	lowest := ranked[len(ranked)-1]
	delete(s.leaderboard[heroID], lowest.AccountID)
	return nil
}

// Leaderboard returns a hero's rows best first.
func (s *Store) Leaderboard(_ context.Context, heroID int32, limit int) ([]store.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := s.rankedLocked(heroID)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// LeaderboardEmpty reports whether the projection has no rows at all.
func (s *Store) LeaderboardEmpty(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byAccount := range s.leaderboard {
		if len(byAccount) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// RebuildLeaderboard recomputes the projection from the fact table.
func (s *Store) RebuildLeaderboard(_ context.Context, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[int32]map[int64]store.LeaderboardEntry)
	byHero := make(map[int32][]store.LeaderboardEntry)
	for accountID, stats := range s.heroStats {
		for heroID, row := range stats {
			byHero[heroID] = append(byHero[heroID], store.LeaderboardEntry{
				HeroID:    heroID,
				AccountID: accountID,
				Matches:   row.Matches,
				Wins:      row.Wins,
			})
		}
	}
	for heroID, rows := range byHero {
		sort.Slice(rows, func(i, j int) bool { return rankBefore(rows[i], rows[j]) })
		if size > 0 && len(rows) > size {
			rows = rows[:size]
		}
		byAccount := make(map[int64]store.LeaderboardEntry, len(rows))
		for _, e := range rows {
			byAccount[e.AccountID] = e
		}
		fresh[heroID] = byAccount
	}
	s.leaderboard = fresh
	return nil
}
