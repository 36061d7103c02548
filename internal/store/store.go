// Package store defines the domain model and persistence interfaces for the
// crawl coordinator. By coding against interfaces, the scheduler core stays
// decoupled from the concrete backend: Postgres in production, an in-memory
// implementation for tests and local development.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an operation targets an account id that is not
// present in the store.
var ErrNotFound = errors.New("account not found")

// Assignment identifies which logical queue currently holds a claim on an
// account. The empty value means unclaimed.
type Assignment string

// Assignment values. Refresh claims reuse AssignmentHero because a refresh is
// re-running the hero collection phase.
const (
	AssignmentNone     Assignment = ""
	AssignmentHero     Assignment = "hero"
	AssignmentDiscover Assignment = "discover"
)

// Account is one node of the crawl graph. Accounts are created at seed time or
// on first discovery and are never deleted.
type Account struct {
	ID              int64
	Depth           *int // nil until BFS order is known
	AssignedTo      Assignment
	AssignedAt      *time.Time
	HeroDone        bool
	HeroRefreshedAt *time.Time
	DiscoverDone    bool
	SeenCount       int
	HighestMatchID  *int64 // monotonic watermark bounding match re-scans
}

// HeroStat is the per-(account, hero) fact row.
type HeroStat struct {
	AccountID int64
	HeroID    int32
	Matches   int
	Wins      int
}

// LeaderboardEntry is one row of the bounded top-K projection. It is
// materialized from HeroStat and never the source of truth.
type LeaderboardEntry struct {
	HeroID    int32
	AccountID int64
	Matches   int
	Wins      int
}

// Beats reports whether e outranks other under the leaderboard ordering
// (matches desc, wins desc, account id asc).
func (e LeaderboardEntry) Beats(other LeaderboardEntry) bool {
	if e.Matches != other.Matches {
		return e.Matches > other.Matches
	}
	if e.Wins != other.Wins {
		return e.Wins > other.Wins
	}
	return e.AccountID < other.AccountID
}

// AccountTotals aggregates an account's stats across every hero.
type AccountTotals struct {
	AccountID int64
	Matches   int
	Wins      int
}

// Progress summarizes crawl completion.
type Progress struct {
	Total        int64
	HeroDone     int64
	DiscoverDone int64
}

// Claimed describes an account freshly claimed by the assignment policy.
type Claimed struct {
	ID             int64
	Depth          int   // COALESCE(depth, 0)
	HighestMatchID int64 // 0 when unknown
}

// Discovered is one neighbor reported by a discovery submission, after
// de-duplication. Seen carries the occurrence weight.
type Discovered struct {
	ID    int64
	Depth int
	Seen  int
}

// AccountStore covers the account lifecycle: seeding, claims, completion and
// reclamation. Claim methods are atomic conditional updates; two concurrent
// callers can never both receive the same account.
type AccountStore interface {
	// Seed inserts accounts in [startID, endID] at depth 0, skipping ids that
	// already exist. Returns the number of rows inserted.
	Seed(ctx context.Context, startID, endID int64) (int64, error)

	// Get returns one account.
	Get(ctx context.Context, id int64) (Account, error)

	// ClaimCollect claims the lowest-id account with incomplete hero stats and
	// id > afterID. Pass afterID < 0 to scan from the beginning. Returns nil
	// when nothing is claimable.
	ClaimCollect(ctx context.Context, afterID int64) (*Claimed, error)

	// ClaimRefresh claims the completed account with the oldest
	// HeroRefreshedAt and flips its HeroDone back to false pending the
	// refresh result. Returns nil when nothing is claimable.
	ClaimRefresh(ctx context.Context, now time.Time) (*Claimed, error)

	// ClaimDiscovery claims the next account due for graph discovery in BFS
	// order (depth asc, seen count desc, id asc). Returns nil when the
	// discovery frontier is empty.
	ClaimDiscovery(ctx context.Context, now time.Time) (*Claimed, error)

	// RestartDiscoveryCycle clears DiscoverDone and SeenCount for all
	// accounts, preserving depth 0 roots and nulling other depths so BFS
	// order is recomputed from rediscovery.
	RestartDiscoveryCycle(ctx context.Context) error

	// CollectPending reports whether any account still needs first-time hero
	// collection.
	CollectPending(ctx context.Context) (bool, error)

	// CompleteHeroCollection marks the hero phase done, stamps
	// HeroRefreshedAt and clears the claim. Returns ErrNotFound for unknown
	// ids.
	CompleteHeroCollection(ctx context.Context, id int64, now time.Time) error

	// RollbackHeroCollection undoes CompleteHeroCollection after an
	// asynchronous processing failure so the work is re-offered.
	RollbackHeroCollection(ctx context.Context, id int64) error

	// CompleteDiscovery marks discovery done, clears the claim and merges the
	// match-id watermark with a keep-maximum rule. It returns the account's
	// stored depth (nil when unknown) for next-depth resolution, or
	// ErrNotFound.
	CompleteDiscovery(ctx context.Context, id int64, highestMatchID *int64) (*int, error)

	// RollbackDiscovery undoes CompleteDiscovery after an asynchronous
	// processing failure.
	RollbackDiscovery(ctx context.Context, id int64) error

	// UpsertDiscovered inserts or merges a batch of discovered neighbors:
	// new rows get the given depth and seen weight; existing rows keep the
	// minimum depth and accumulate the weight only while their own discovery
	// has not completed.
	UpsertDiscovered(ctx context.Context, rows []Discovered) error

	// ResetTask administratively clears an account's claim. When kind names a
	// task type the matching completion flag is reset too.
	ResetTask(ctx context.Context, id int64, kind TaskKind) error

	// ReleaseStale clears claims whose AssignedAt predates cutoff and returns
	// the number of rows released.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)

	// Progress returns aggregate completion counts.
	Progress(ctx context.Context) (Progress, error)
}

// HeroStatStore persists the per-hero fact rows.
type HeroStatStore interface {
	// MergeHeroStats upserts rows with a keep-larger-matches rule: an
	// incoming row only overwrites when its match count is at least the
	// stored one.
	MergeHeroStats(ctx context.Context, rows []HeroStat) error

	// HeroStats reads back the stored rows for one account restricted to the
	// given hero ids.
	HeroStats(ctx context.Context, accountID int64, heroIDs []int32) ([]HeroStat, error)

	// OverallBest returns per-account totals across all heroes, best first.
	OverallBest(ctx context.Context, limit int) ([]AccountTotals, error)
}

// LeaderboardStore exposes the primitives the incremental top-K maintainer
// needs plus the full-rebuild backstop.
type LeaderboardStore interface {
	// LeaderboardEntries returns an account's existing rows for the given
	// hero ids.
	LeaderboardEntries(ctx context.Context, accountID int64, heroIDs []int32) ([]LeaderboardEntry, error)

	// LeaderboardSizes returns the current row count per hero id.
	LeaderboardSizes(ctx context.Context, heroIDs []int32) (map[int32]int, error)

	// LeaderboardThresholds returns the row at the given rank (1-based) per
	// hero id; heroes with fewer rows are absent from the result.
	LeaderboardThresholds(ctx context.Context, heroIDs []int32, rank int) (map[int32]LeaderboardEntry, error)

	// UpdateLeaderboardEntry rewrites the stats of an existing row.
	UpdateLeaderboardEntry(ctx context.Context, entry LeaderboardEntry) error

	// InsertLeaderboardEntry adds a new row.
	InsertLeaderboardEntry(ctx context.Context, entry LeaderboardEntry) error

	// EvictLowest deletes the lowest-ranked row for a hero, breaking ties by
	// evicting the highest account id.
	EvictLowest(ctx context.Context, heroID int32) error

	// Leaderboard returns a hero's rows best first.
	Leaderboard(ctx context.Context, heroID int32, limit int) ([]LeaderboardEntry, error)

	// LeaderboardEmpty reports whether the projection holds no rows at all.
	LeaderboardEmpty(ctx context.Context) (bool, error)

	// RebuildLeaderboard recomputes the projection from the fact table,
	// keeping the top `size` rows per hero. It is the consistency backstop
	// for the incremental path.
	RebuildLeaderboard(ctx context.Context, size int) error
}

// MetaStore holds the scheduler's small key/value state: the task-assignment
// counter, the collect cursor and the reclaim stamp. All mutations are single
// atomic statements so concurrent schedulers sharing a store cannot lose
// updates.
type MetaStore interface {
	// IncrementAssignCounter atomically bumps the assignment counter and
	// returns the new value.
	IncrementAssignCounter(ctx context.Context) (int64, error)

	// CollectCursor returns the persisted collect cursor, -1 when unset.
	CollectCursor(ctx context.Context) (int64, error)

	// SetCollectCursor persists the collect cursor.
	SetCollectCursor(ctx context.Context, id int64) error

	// TryAdvanceSweepStamp advances the reclaim timestamp iff the stored one
	// is older than now minus interval. Returns true when this caller won the
	// slot and should run the sweep.
	TryAdvanceSweepStamp(ctx context.Context, now time.Time, interval time.Duration) (bool, error)
}

// Store is the full persistence surface the coordinator needs.
type Store interface {
	AccountStore
	HeroStatStore
	LeaderboardStore
	MetaStore

	// Close releases backend resources.
	Close()
}
