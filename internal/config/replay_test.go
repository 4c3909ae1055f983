package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadReplayConfig(t *testing.T) {
	t.Parallel()

	t.Run("partial config keeps defaults", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "replay.json", `{"hysteresis_meters": 7.5}`)
		cfg, err := LoadReplayConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 7.5, cfg.GetHysteresisMeters())
		assert.Equal(t, float64(DefaultRetireWindowSecs), cfg.GetRetireWindowSecs())
		assert.Equal(t, DefaultPreEncodeBudget, cfg.GetPreEncodeBudget())
		assert.Equal(t, DefaultPlaybackTickHz, cfg.GetPlaybackTickHz())
	})

	t.Run("full config", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "replay.json", `{
			"hysteresis_meters": 3,
			"retire_window_seconds": 20,
			"workers": 2,
			"load_timeout_seconds": 60,
			"pre_encode_budget": 1000,
			"playback_tick_hz": 30,
			"progress_interval_ms": 500,
			"cache_ttl_hours": 48
		}`)
		cfg, err := LoadReplayConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 3.0, cfg.GetHysteresisMeters())
		assert.Equal(t, 20.0, cfg.GetRetireWindowSecs())
		assert.Equal(t, 2, cfg.GetWorkers())
		assert.Equal(t, 60, cfg.GetLoadTimeoutSecs())
		assert.Equal(t, 1000, cfg.GetPreEncodeBudget())
		assert.Equal(t, 30, cfg.GetPlaybackTickHz())
		assert.Equal(t, 500, cfg.GetProgressIntervalMs())
		assert.Equal(t, 48, cfg.GetCacheTTLHours())
	})

	t.Run("non-json extension rejected", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "replay.yaml", `{}`)
		_, err := LoadReplayConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("missing file rejected", func(t *testing.T) {
		t.Parallel()
		_, err := LoadReplayConfig(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "replay.json", `{"workers": `)
		_, err := LoadReplayConfig(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bad := []ReplayConfig{
		{HysteresisMeters: ptrF(-1)},
		{RetireWindowSecs: ptrF(0)},
		{Workers: ptrI(0)},
		{LoadTimeoutSecs: ptrI(0)},
		{PreEncodeBudget: ptrI(-1)},
		{PlaybackTickHz: ptrI(0)},
		{PlaybackTickHz: ptrI(500)},
		{ProgressIntervalMs: ptrI(-1)},
		{CacheTTLHours: ptrI(-1)},
	}
	for i := range bad {
		assert.Error(t, bad[i].Validate(), "case %d", i)
	}

	assert.NoError(t, (&ReplayConfig{}).Validate())
	assert.NoError(t, (&ReplayConfig{HysteresisMeters: ptrF(0)}).Validate())
}

func TestGettersOnNil(t *testing.T) {
	t.Parallel()
	var cfg *ReplayConfig
	assert.Equal(t, float64(DefaultHysteresisMeters), cfg.GetHysteresisMeters())
	assert.Equal(t, DefaultLoadTimeoutSecs, cfg.GetLoadTimeoutSecs())
	assert.Equal(t, DefaultProgressIntervalMs, cfg.GetProgressIntervalMs())
	assert.Equal(t, DefaultCacheTTLHours, cfg.GetCacheTTLHours())
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
