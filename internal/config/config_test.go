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
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "host=localhost dbname=relay"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 900*time.Second, cfg.Orchestrator.Budget)
	assert.EqualValues(t, 3, cfg.Orchestrator.Retry.Attempts)
	assert.Equal(t, 30, cfg.Journal.TTLDays)
	assert.Equal(t, 30*24*time.Hour, cfg.Journal.Retention())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "relay:queue:invocations", cfg.Redis.InvocationQueue)
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: relay.db
orchestrator:
  poll_interval: 2s
  budget: 10m
  retry:
    attempts: 5
detector:
  stale_after: 45m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.Budget)
	assert.EqualValues(t, 5, cfg.Orchestrator.Retry.Attempts)
	assert.Equal(t, 45*time.Minute, cfg.Detector.StaleAfter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_DATABASE_DSN", "from-env")
	t.Setenv("RELAY_REDIS_ADDR", "redis:6380")
	t.Setenv("RELAY_JOURNAL_TTL_DAYS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Journal.TTLDays)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing dsn",
			body: "server:\n  port: 9000\n",
			want: "database.dsn is required",
		},
		{
			name: "unknown driver",
			body: "database:\n  driver: mysql\n  dsn: x\n",
			want: "database.driver",
		},
		{
			name: "budget shorter than poll",
			body: "database:\n  dsn: x\norchestrator:\n  poll_interval: 10s\n  budget: 5s\n",
			want: "orchestrator.budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
