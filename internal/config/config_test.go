package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Orchestrator.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.JobTimeout)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.CancelGrace)
	assert.Equal(t, 64, cfg.Orchestrator.ProgressBuffer)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "scan-jobs", cfg.Kafka.JobLifecycleTopic)
	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 5.0, cfg.Webhook.RatePerSecond)
	assert.Equal(t, "sentinel", cfg.Telemetry.ServiceName)
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
orchestrator:
  workers: 8
  job_timeout: 2m
storage:
  backend: postgres
  postgres:
    host: db.internal
    user: sentinel
    password: secret
    database: sentinel
kafka:
  enabled: true
  brokers:
    - broker-1:9092
    - broker-2:9092
alerting:
  rules_file: /etc/sentinel/rules.yaml
  channels:
    security: https://hooks.example.com/security
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.JobTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "db.internal", cfg.Storage.Postgres.Host)
	assert.Equal(t, uint16(5432), cfg.Storage.Postgres.Port)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/etc/sentinel/rules.yaml", cfg.Alerting.RulesFile)
	assert.Equal(t, "https://hooks.example.com/security", cfg.Alerting.Channels["security"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
orchestrator:
  workers: 8
`)
	t.Setenv("SENTINEL_ORCHESTRATOR_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Orchestrator.Workers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown storage backend",
			yaml: "storage:\n  backend: cassandra\n",
		},
		{
			name: "zero workers",
			yaml: "orchestrator:\n  workers: 0\n",
		},
		{
			name: "kafka enabled without brokers",
			yaml: "kafka:\n  enabled: true\n",
		},
		{
			name: "malformed channel url",
			yaml: "alerting:\n  channels:\n    security: not-a-url\n",
		},
		{
			name: "sampling ratio out of range",
			yaml: "telemetry:\n  sampling_ratio: 1.5\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, "config.yaml", tt.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
