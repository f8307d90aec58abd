package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Engine.Interval())
	assert.Equal(t, 4, cfg.Engine.NumWorkers)
	assert.Equal(t, "latest", cfg.Engine.MACTieBreak)
	assert.True(t, cfg.Engine.PinOrigin())
	assert.Empty(t, cfg.Writers)
}

func TestParseFull(t *testing.T) {
	t.Setenv("NS_CH_PASSWORD", "s3cret")

	data := []byte(`
logging:
  level: debug
engine:
  interval_width: 500ms
  num_workers: 2
  mac_tie_break: first
  origin_from_first_source: false
writers:
  - type: sqlite
    enabled: true
    sqlite:
      path: /tmp/stats.db
  - type: clickhouse
    enabled: true
    clickhouse:
      host: localhost
      database: netstats
      username: default
      password: ${NS_CH_PASSWORD}
probe:
  nats_url: nats://nats:4222
  subject: test.records
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.Interval())
	assert.Equal(t, 2, cfg.Engine.NumWorkers)
	assert.False(t, cfg.Engine.PinOrigin())
	require.Len(t, cfg.Writers, 2)
	assert.Equal(t, "/tmp/stats.db", cfg.Writers[0].SQLite.Path)
	assert.Equal(t, 9000, cfg.Writers[1].ClickHouse.Port)
	assert.Equal(t, "s3cret", cfg.Writers[1].ClickHouse.Password)
	assert.Equal(t, "test.records", cfg.Probe.Subject)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad interval", "engine:\n  interval_width: soon\n"},
		{"zero interval", "engine:\n  interval_width: 0s\n"},
		{"bad tie break", "engine:\n  mac_tie_break: random\n"},
		{"gob without path", "writers:\n  - type: gob\n    enabled: true\n"},
		{"unknown writer", "writers:\n  - type: kafka\n    enabled: true\n"},
		{"broken yaml", "engine: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseReportsEveryProblem(t *testing.T) {
	yaml := "engine:\n  interval_width: soon\n  mac_tie_break: random\nwriters:\n  - type: sqlite\n    enabled: true\n"

	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid interval_width")
	assert.ErrorContains(t, err, `unknown MAC tie-break "random"`)
	assert.ErrorContains(t, err, "writers[0]: sqlite.path is required")
	assert.ErrorContains(t, err, "3 errors occurred")
}

func TestDisabledWriterNotValidated(t *testing.T) {
	_, err := Parse([]byte("writers:\n  - type: gob\n    enabled: false\n"))
	assert.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  interval_width: 10s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Engine.Interval())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
