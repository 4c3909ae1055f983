// Package config loads tuning parameters for the replay engine.
//
// All fields are pointers so that a value absent from the JSON file is
// distinguishable from an explicit zero. Getter methods supply the
// compiled-in defaults for unset fields, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Default tuning values. These are the single source of truth; the JSON
// config file only overrides them.
const (
	DefaultFrameRateHz        = 25
	DefaultPlaybackTickHz     = 60
	DefaultHysteresisMeters   = 5.0
	DefaultRetireWindowSecs   = 10.0
	DefaultLoadTimeoutSecs    = 300
	DefaultPreEncodeBudget    = 50000
	DefaultProgressIntervalMs = 250
	DefaultCacheTTLHours      = 0 // 0 disables pruning
)

// ReplayConfig holds tunable parameters for the pipeline, the session
// orchestrator and the streaming gateway.
type ReplayConfig struct {
	// Pipeline params
	HysteresisMeters *float64 `json:"hysteresis_meters,omitempty"`
	RetireWindowSecs *float64 `json:"retire_window_seconds,omitempty"`
	Workers          *int     `json:"workers,omitempty"`

	// Orchestrator params
	LoadTimeoutSecs *int `json:"load_timeout_seconds,omitempty"`
	PreEncodeBudget *int `json:"pre_encode_budget,omitempty"`

	// Gateway params
	PlaybackTickHz     *int `json:"playback_tick_hz,omitempty"`
	ProgressIntervalMs *int `json:"progress_interval_ms,omitempty"`

	// Cache params
	CacheTTLHours *int `json:"cache_ttl_hours,omitempty"`
}

// EmptyReplayConfig returns a ReplayConfig with all fields unset.
func EmptyReplayConfig() *ReplayConfig {
	return &ReplayConfig{}
}

// LoadReplayConfig loads a ReplayConfig from a JSON file. The file must
// have a .json extension and be under the max file size. Fields omitted
// from the JSON retain their defaults.
func LoadReplayConfig(path string) (*ReplayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyReplayConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set values are in range.
func (c *ReplayConfig) Validate() error {
	if c.HysteresisMeters != nil && *c.HysteresisMeters < 0 {
		return fmt.Errorf("hysteresis_meters must be >= 0, got %f", *c.HysteresisMeters)
	}
	if c.RetireWindowSecs != nil && *c.RetireWindowSecs <= 0 {
		return fmt.Errorf("retire_window_seconds must be > 0, got %f", *c.RetireWindowSecs)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", *c.Workers)
	}
	if c.LoadTimeoutSecs != nil && *c.LoadTimeoutSecs < 1 {
		return fmt.Errorf("load_timeout_seconds must be >= 1, got %d", *c.LoadTimeoutSecs)
	}
	if c.PreEncodeBudget != nil && *c.PreEncodeBudget < 0 {
		return fmt.Errorf("pre_encode_budget must be >= 0, got %d", *c.PreEncodeBudget)
	}
	if c.PlaybackTickHz != nil && (*c.PlaybackTickHz < 1 || *c.PlaybackTickHz > 240) {
		return fmt.Errorf("playback_tick_hz must be in [1,240], got %d", *c.PlaybackTickHz)
	}
	if c.ProgressIntervalMs != nil && *c.ProgressIntervalMs < 0 {
		return fmt.Errorf("progress_interval_ms must be >= 0, got %d", *c.ProgressIntervalMs)
	}
	if c.CacheTTLHours != nil && *c.CacheTTLHours < 0 {
		return fmt.Errorf("cache_ttl_hours must be >= 0, got %d", *c.CacheTTLHours)
	}
	return nil
}

func (c *ReplayConfig) GetHysteresisMeters() float64 {
	if c != nil && c.HysteresisMeters != nil {
		return *c.HysteresisMeters
	}
	return DefaultHysteresisMeters
}

func (c *ReplayConfig) GetRetireWindowSecs() float64 {
	if c != nil && c.RetireWindowSecs != nil {
		return *c.RetireWindowSecs
	}
	return DefaultRetireWindowSecs
}

// GetWorkers returns the CPU worker limit for the per-driver stage.
func (c *ReplayConfig) GetWorkers() int {
	if c != nil && c.Workers != nil {
		return *c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c *ReplayConfig) GetLoadTimeoutSecs() int {
	if c != nil && c.LoadTimeoutSecs != nil {
		return *c.LoadTimeoutSecs
	}
	return DefaultLoadTimeoutSecs
}

func (c *ReplayConfig) GetPreEncodeBudget() int {
	if c != nil && c.PreEncodeBudget != nil {
		return *c.PreEncodeBudget
	}
	return DefaultPreEncodeBudget
}

func (c *ReplayConfig) GetPlaybackTickHz() int {
	if c != nil && c.PlaybackTickHz != nil {
		return *c.PlaybackTickHz
	}
	return DefaultPlaybackTickHz
}

func (c *ReplayConfig) GetProgressIntervalMs() int {
	if c != nil && c.ProgressIntervalMs != nil {
		return *c.ProgressIntervalMs
	}
	return DefaultProgressIntervalMs
}

func (c *ReplayConfig) GetCacheTTLHours() int {
	if c != nil && c.CacheTTLHours != nil {
		return *c.CacheTTLHours
	}
	return DefaultCacheTTLHours
}
