package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/quality"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, "database_path: test.db\n"))
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.DatabasePath)
	assert.Equal(t, "/tmp/workrate.sock", cfg.SocketPath)
	assert.Equal(t, 30, cfg.Engine.HeartbeatSeconds)
	assert.Equal(t, 180, cfg.Engine.ActivityIdleSeconds)
	assert.Equal(t, 3, cfg.Engine.OffTaskGraceSeconds)
	assert.Equal(t, quality.DefaultWeights(), cfg.Quality.Weights)
	assert.InDelta(t, 0.76, cfg.Quality.OutputSignal, 1e-9)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.True(t, cfg.Notifications.Enabled)

	mc := cfg.MachineConfig()
	assert.Equal(t, 30*time.Second, mc.Heartbeat)
	assert.Equal(t, 180*time.Second, mc.ActivityIdle)
	assert.Contains(t, mc.DefaultBlockList, "youtube.com")
	assert.Contains(t, cfg.Collector.BrowserClasses, "firefox")
	assert.Equal(t, 86, mc.Scorer.Score(3600, 0, 5))
}

func TestLoadConfigOverrides(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, `
engine:
  heartbeat_seconds: 10
  activity_idle_seconds: 60
  block_list: [news.ycombinator.com]
quality:
  focus: 0.5
  output: 0.2
  consistency: 0.3
  output_signal: 1.0
sync:
  batch_size: 25
  drain_interval_seconds: 0
`))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Engine.HeartbeatSeconds)
	assert.Equal(t, []string{"news.ycombinator.com"}, cfg.Engine.BlockList)
	assert.Equal(t, quality.Weights{Focus: 0.5, Output: 0.2, Consistency: 0.3}, cfg.Quality.Weights)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Zero(t, cfg.DrainInterval())
	assert.Equal(t, 100, cfg.Scorer().Score(100, 0, 0))
}

func TestLoadConfigClampsInvalidValues(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, `
collector:
  interval_seconds: 0
engine:
  heartbeat_seconds: 0
  activity_idle_seconds: 5
  off_task_grace_seconds: -2
quality:
  focus: 0.9
  output: 0.9
  consistency: 0.9
  output_signal: 3
sync:
  batch_size: 500
`))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Collector.IntervalSeconds)
	assert.Equal(t, 30, cfg.Engine.HeartbeatSeconds)
	assert.Equal(t, 30, cfg.Engine.ActivityIdleSeconds)
	assert.Zero(t, cfg.Engine.OffTaskGraceSeconds)
	assert.Equal(t, quality.DefaultWeights(), cfg.Quality.Weights)
	assert.InDelta(t, 0.76, cfg.Quality.OutputSignal, 1e-9)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("WORKRATE_SOCKET_PATH", "/run/user/1000/workrate.sock")
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/workrate.sock", cfg.SocketPath)
}

func TestLoadConfigBadFile(t *testing.T) {
	viper.Reset()
	_, err := LoadConfig(writeConfig(t, "engine: [unclosed\n"))
	assert.Error(t, err)
}

func TestBlockListIsNormalized(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, `
collector:
  browser_classes: [" Firefox ", ""]
engine:
  block_list: [" www.YouTube.com ", "Reddit.com", ""]
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"youtube.com", "reddit.com"}, cfg.Engine.BlockList)
	assert.Equal(t, []string{"firefox"}, cfg.Collector.BrowserClasses)

	raw := Config{Engine: EngineConfig{BlockList: []string{"www.Twitch.TV"}}}
	assert.Equal(t, []string{"twitch.tv"}, raw.MachineConfig().DefaultBlockList)
}
