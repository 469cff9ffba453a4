package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	testConfigContent := `
log_level: debug
api_port: "9090"
engine:
  clusters: 4
  fuzziness: 2.0
  labels: [a, b, c, d]
store:
  backend: redis
  redis:
    addr: redis:6379
    key_prefix: tc
retrain:
  min_new_events: 50
jobs:
  - name: retrain
    enabled: true
    interval: 5s
  - name: traffic_sampler
    enabled: false
    interval: 1m
ingest:
  rate_per_minute: 60
  alert_dedup_window: 30s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigContent), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9090", cfg.APIPort)

	assert.Equal(t, 4, cfg.Engine.Clusters)
	assert.Equal(t, 2.0, cfg.Engine.Fuzziness)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cfg.Engine.Labels)
	assert.Equal(t, 100, cfg.Engine.MaxIterations, "unset keys keep defaults")

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "tc", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, "fuzzy_clustering", cfg.Store.ModelName)

	assert.Equal(t, 50, cfg.Retrain.MinNewEvents)
	assert.Equal(t, 50000, cfg.Retrain.MaxTrainingSamples)

	require.Len(t, cfg.Jobs, 2)
	job := cfg.GetJobConfig("retrain")
	require.NotNil(t, job)
	assert.True(t, job.Enabled)
	assert.Equal(t, "5s", job.Interval)
	assert.Nil(t, cfg.GetJobConfig("missing"))

	assert.Equal(t, 60, cfg.Ingest.RatePerMinute)
	assert.Equal(t, 100, cfg.Ingest.Burst)
	assert.Equal(t, 30*time.Second, cfg.Ingest.AlertDedupWindow)
	assert.Equal(t, 24*time.Hour, cfg.EventBus.HistoryWindow)

	engine := cfg.EngineConfig("schema-1")
	assert.Equal(t, "schema-1", engine.Schema)
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Engine.Clusters)
	assert.Equal(t, 1.6, cfg.Engine.Fuzziness)
	assert.Equal(t, 1e-3, cfg.Engine.ConvergenceThreshold)
	assert.Equal(t, int64(42), cfg.Engine.RandomSeed)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 500, cfg.Retrain.MinNewEvents)
	require.NotNil(t, cfg.GetJobConfig("retrain"))
	assert.Equal(t, "1h", cfg.GetJobConfig("retrain").Interval)
	assert.False(t, cfg.GetJobConfig("traffic_sampler").Enabled)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	t.Setenv("THREATCLUSTER_API_PORT", "9091")
	t.Setenv("THREATCLUSTER_ENGINE_FUZZINESS", "2.5")
	t.Setenv("THREATCLUSTER_STORE_DIR", "/var/lib/threatcluster")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9091", cfg.APIPort)
	assert.Equal(t, 2.5, cfg.Engine.Fuzziness)
	assert.Equal(t, "/var/lib/threatcluster", cfg.Store.Dir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"backend", "store:\n  backend: s3\n"},
		{"interval", "jobs:\n  - name: retrain\n    enabled: true\n    interval: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
