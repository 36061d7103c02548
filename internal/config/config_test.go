package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsRequireDSNForPostgres(t *testing.T) {
	t.Parallel()

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
store:
  backend: memory
scheduler:
  refresh_every: 5
  discover_every: 50
  claim_timeout_minutes: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, int64(5), cfg.Scheduler.RefreshEvery)
	assert.Equal(t, int64(50), cfg.Scheduler.DiscoverEvery)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.ClaimTimeout())

	// Untouched knobs keep their defaults.
	assert.Equal(t, 100, cfg.Scheduler.LeaderboardSize)
	assert.Equal(t, time.Minute, cfg.Scheduler.SweepInterval())
	assert.Equal(t, 12*time.Hour, cfg.Scheduler.RebuildInterval())
	assert.Equal(t, 500, cfg.Scheduler.DiscoveryBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
store:
  backend: cassandra
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidateRejectsBadIntervals(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
store:
  backend: memory
scheduler:
  refresh_every: 0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh_every")
}

func TestValidateRequiresTopicWithProject(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
store:
  backend: memory
pubsub:
  project_id: demo
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub.topic_name")
}
