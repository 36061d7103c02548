// Package main hosts the coordinator service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes task handout (/task), result
//     submission (/submit), administrative reset, progress and leaderboard
//     reads, plus health and metrics endpoints.
//   - Scheduling: internal/scheduler interleaves first-time collection with
//     interval-driven refresh and discovery claims, all expressed as atomic
//     conditional updates so concurrent workers never share an account.
//   - Submissions: acks are synchronous; row merges and leaderboard folds run
//     on a bounded worker pool, with compensating rollbacks re-offering the
//     work when a background write fails.
//   - Persistence: internal/storage/postgres on pgxpool (with transient
//     contention retries), or internal/storage/memory for single-process runs.
//   - Plumbing: Viper config (COORDINATOR_* env), zap logging, Prometheus
//     metrics, optional Pub/Sub notifications.
package main

import (
	"github.com/dotagraph/coordinator/cmd"
)

func main() {
	cmd.Execute()
}
