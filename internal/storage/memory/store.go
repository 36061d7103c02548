// Package memory provides an in-memory Store for tests and local development.
// All operations take a single mutex, which makes every claim trivially
// atomic; the Postgres implementation achieves the same contract with
// conditional UPDATE statements.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dotagraph/coordinator/internal/store"
)

// Store keeps the full coordinator state in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	accounts    map[int64]*store.Account
	heroStats   map[int64]map[int32]store.HeroStat
	leaderboard map[int32]map[int64]store.LeaderboardEntry

	counter int64
	cursor  int64
	sweepAt time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:    make(map[int64]*store.Account),
		heroStats:   make(map[int64]map[int32]store.HeroStat),
		leaderboard: make(map[int32]map[int64]store.LeaderboardEntry),
		cursor:      -1,
	}
}

// Close implements store.Store; nothing to release.
func (s *Store) Close() {}

// Seed inserts accounts in [startID, endID] at depth 0.
func (s *Store) Seed(_ context.Context, startID, endID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for id := startID; id <= endID; id++ {
		if _, ok := s.accounts[id]; ok {
			continue
		}
		depth := 0
		s.accounts[id] = &store.Account{ID: id, Depth: &depth}
		inserted++
	}
	return inserted, nil
}

// Get returns a copy of one account.
func (s *Store) Get(_ context.Context, id int64) (store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func cloneAccount(a *store.Account) store.Account {
	out := *a
	if a.Depth != nil {
		d := *a.Depth
		out.Depth = &d
	}
	if a.AssignedAt != nil {
		t := *a.AssignedAt
		out.AssignedAt = &t
	}
	if a.HeroRefreshedAt != nil {
		t := *a.HeroRefreshedAt
		out.HeroRefreshedAt = &t
	}
	if a.HighestMatchID != nil {
		m := *a.HighestMatchID
		out.HighestMatchID = &m
	}
	return out
}

func depthOf(a *store.Account) int {
	if a.Depth == nil {
		return 0
	}
	return *a.Depth
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func claimOf(a *store.Account) *store.Claimed {
	c := &store.Claimed{ID: a.ID, Depth: depthOf(a)}
	if a.HighestMatchID != nil {
		c.HighestMatchID = *a.HighestMatchID
	}
	return c
}

// ClaimCollect claims the lowest-id hero-incomplete unclaimed account with
// id > afterID.
func (s *Store) ClaimCollect(_ context.Context, afterID int64) (*store.Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range s.sortedIDs() {
		if id <= afterID {
			continue
		}
		a := s.accounts[id]
		if a.HeroDone || a.AssignedTo != store.AssignmentNone {
			continue
		}
		a.AssignedTo = store.AssignmentHero
		a.AssignedAt = &now
		return claimOf(a), nil
	}
	return nil, nil
}

// ClaimRefresh claims the completed account with the oldest refresh stamp and
// flips HeroDone back to false.
func (s *Store) ClaimRefresh(_ context.Context, now time.Time) (*store.Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Account
	for _, id := range s.sortedIDs() {
		a := s.accounts[id]
		if !a.HeroDone || a.AssignedTo != store.AssignmentNone {
			continue
		}
		if best == nil || refreshedBefore(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	best.HeroDone = false
	best.AssignedTo = store.AssignmentHero
	at := now
	best.AssignedAt = &at
	return claimOf(best), nil
}

// refreshedBefore orders by (HeroRefreshedAt asc nulls-first, id asc). Lower
// ids win ties because sortedIDs visits them first and the comparison is
// strict.
func refreshedBefore(a, b *store.Account) bool {
	switch {
	case a.HeroRefreshedAt == nil && b.HeroRefreshedAt == nil:
		return false
	case a.HeroRefreshedAt == nil:
		return true
	case b.HeroRefreshedAt == nil:
		return false
	default:
		return a.HeroRefreshedAt.Before(*b.HeroRefreshedAt)
	}
}

// ClaimDiscovery claims the next discovery candidate in BFS order: depth asc,
// seen count desc, id asc.
func (s *Store) ClaimDiscovery(_ context.Context, now time.Time) (*store.Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Account
	for _, id := range s.sortedIDs() {
		a := s.accounts[id]
		if !a.HeroDone || a.DiscoverDone || a.AssignedTo != store.AssignmentNone {
			continue
		}
		if best == nil || discoveryBefore(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	best.AssignedTo = store.AssignmentDiscover
	at := now
	best.AssignedAt = &at
	return claimOf(best), nil
}

func discoveryBefore(a, b *store.Account) bool {
	if depthOf(a) != depthOf(b) {
		return depthOf(a) < depthOf(b)
	}
	if a.SeenCount != b.SeenCount {
		return a.SeenCount > b.SeenCount
	}
	return a.ID < b.ID
}

// RestartDiscoveryCycle re-opens discovery for every account. Roots keep
// depth 0; all other depths become unknown so rediscovery recomputes them.
func (s *Store) RestartDiscoveryCycle(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		a.DiscoverDone = false
		a.SeenCount = 0
		if a.Depth != nil && *a.Depth != 0 {
			a.Depth = nil
		}
		if a.AssignedTo == store.AssignmentDiscover {
			a.AssignedTo = store.AssignmentNone
			a.AssignedAt = nil
		}
	}
	return nil
}

// CollectPending reports whether any account still has incomplete hero stats.
func (s *Store) CollectPending(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if !a.HeroDone {
			return true, nil
		}
	}
	return false, nil
}

// CompleteHeroCollection acks a hero submission synchronously.
func (s *Store) CompleteHeroCollection(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.HeroDone = true
	at := now
	a.HeroRefreshedAt = &at
	a.AssignedTo = store.AssignmentNone
	a.AssignedAt = nil
	return nil
}

// RollbackHeroCollection re-offers the hero phase after an async failure.
func (s *Store) RollbackHeroCollection(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.HeroDone = false
	a.HeroRefreshedAt = nil
	a.AssignedTo = store.AssignmentNone
	a.AssignedAt = nil
	return nil
}

// CompleteDiscovery acks a discovery submission and merges the watermark.
func (s *Store) CompleteDiscovery(_ context.Context, id int64, highestMatchID *int64) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	var depth *int
	if a.Depth != nil {
		d := *a.Depth
		depth = &d
	}
	a.DiscoverDone = true
	a.AssignedTo = store.AssignmentNone
	a.AssignedAt = nil
	if highestMatchID != nil {
		if a.HighestMatchID == nil || *highestMatchID > *a.HighestMatchID {
			m := *highestMatchID
			a.HighestMatchID = &m
		}
	}
	return depth, nil
}

// RollbackDiscovery re-offers the discovery phase after an async failure.
func (s *Store) RollbackDiscovery(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.DiscoverDone = false
	a.AssignedTo = store.AssignmentNone
	a.AssignedAt = nil
	return nil
}

// UpsertDiscovered merges a batch of discovered neighbors: min depth wins,
// seen counts accumulate only while the child's own discovery is open.
func (s *Store) UpsertDiscovered(_ context.Context, rows []store.Discovered) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		a, ok := s.accounts[row.ID]
		if !ok {
			depth := row.Depth
			s.accounts[row.ID] = &store.Account{
				ID:        row.ID,
				Depth:     &depth,
				SeenCount: row.Seen,
			}
			continue
		}
		if a.Depth == nil || row.Depth < *a.Depth {
			depth := row.Depth
			a.Depth = &depth
		}
		if !a.DiscoverDone {
			a.SeenCount += row.Seen
		}
	}
	return nil
}

// ResetTask clears an account's claim and, for a known kind, its completion
// flag. Resetting the hero phase keeps HeroDone when fact rows already exist,
// matching the refresh semantics: re-collection then becomes a refresh rather
// than a first pass.
func (s *Store) ResetTask(_ context.Context, id int64, kind store.TaskKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	switch kind {
	case store.TaskCollectHeroStats:
		hasStats := len(s.heroStats[id]) > 0
		a.HeroDone = hasStats
		if !hasStats {
			a.HeroRefreshedAt = nil
		}
	case store.TaskDiscoverMatches:
		a.DiscoverDone = false
	}
	a.AssignedTo = store.AssignmentNone
	a.AssignedAt = nil
	return nil
}

// ReleaseStale clears claims older than cutoff.
func (s *Store) ReleaseStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for _, a := range s.accounts {
		if a.AssignedTo == store.AssignmentNone {
			continue
		}
		if a.AssignedAt == nil || !a.AssignedAt.After(cutoff) {
			a.AssignedTo = store.AssignmentNone
			a.AssignedAt = nil
			released++
		}
	}
	return released, nil
}

// Progress returns aggregate completion counts.
func (s *Store) Progress(_ context.Context) (store.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := store.Progress{Total: int64(len(s.accounts))}
	for _, a := range s.accounts {
		if a.HeroDone {
			p.HeroDone++
		}
		if a.DiscoverDone {
			p.DiscoverDone++
		}
	}
	return p, nil
}
