package store

// TaskKind discriminates the two units of work handed to workers.
type TaskKind string

// Task kinds as they appear on the wire.
const (
	TaskCollectHeroStats TaskKind = "collect_hero_stats"
	TaskDiscoverMatches  TaskKind = "discover_matches"
)

// Task is the descriptor returned by the assignment policy. It is a closed
// sum: the only implementations are CollectHeroStats and DiscoverMatches,
// each carrying only the fields relevant to its kind.
type Task interface {
	Kind() TaskKind
	Account() int64
}

// CollectHeroStats asks a worker to collect (or refresh) an account's
// per-hero match statistics.
type CollectHeroStats struct {
	AccountID int64
}

// Kind implements Task.
func (CollectHeroStats) Kind() TaskKind { return TaskCollectHeroStats }

// Account implements Task.
func (t CollectHeroStats) Account() int64 { return t.AccountID }

// DiscoverMatches asks a worker to expand an account's match history and
// report the peers found there.
type DiscoverMatches struct {
	AccountID      int64
	Depth          int
	HighestMatchID int64 // bound for re-scanning; 0 when unknown
}

// Kind implements Task.
func (DiscoverMatches) Kind() TaskKind { return TaskDiscoverMatches }

// Account implements Task.
func (t DiscoverMatches) Account() int64 { return t.AccountID }
