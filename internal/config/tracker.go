package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tracker defaults file.
const DefaultConfigPath = "config/tracker.defaults.json"

// TrackerConfig holds the tracker tunables. Omitted fields fall back to the
// Get* defaults, so partial files are valid.
type TrackerConfig struct {
	SmoothingEnabled   *bool   `json:"smoothing_enabled,omitempty"`
	FilterWindow       *int    `json:"filter_window,omitempty"`
	HistoryLength      *int    `json:"history_length,omitempty"`
	CalibrationWarmup  *int    `json:"calibration_warmup,omitempty"`
	CalibrationSamples *int    `json:"calibration_samples,omitempty"`
	PollInitial        *string `json:"poll_initial,omitempty"`        // duration string like "2s"
	PollInterval       *string `json:"poll_interval,omitempty"`       // duration string like "20s"
	IdleCheckInterval  *string `json:"idle_check_interval,omitempty"` // duration string like "10s"
	TickInterval       *string `json:"tick_interval,omitempty"`       // duration string like "500ms"
	MaxBufferBytes     *int    `json:"max_buffer_bytes,omitempty"`
	VersionLength      *int    `json:"version_length,omitempty"`
}

// EmptyTrackerConfig returns a TrackerConfig with every field unset.
func EmptyTrackerConfig() *TrackerConfig {
	return &TrackerConfig{}
}

// LoadTrackerConfig loads a TrackerConfig from a JSON file. The file must have
// a .json extension and be under 1MB.
func LoadTrackerConfig(path string) (*TrackerConfig, error) {
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

	cfg := EmptyTrackerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *TrackerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *TrackerConfig) Validate() error {
	if c.FilterWindow != nil {
		if w := *c.FilterWindow; w < 4 || w%2 != 0 {
			return fmt.Errorf("filter_window must be even and at least 4, got %d", w)
		}
	}
	if c.HistoryLength != nil && *c.HistoryLength < 1 {
		return fmt.Errorf("history_length must be positive, got %d", *c.HistoryLength)
	}
	if c.CalibrationWarmup != nil && *c.CalibrationWarmup < 0 {
		return fmt.Errorf("calibration_warmup must be non-negative, got %d", *c.CalibrationWarmup)
	}
	if c.CalibrationSamples != nil && *c.CalibrationSamples < 1 {
		return fmt.Errorf("calibration_samples must be positive, got %d", *c.CalibrationSamples)
	}
	if c.MaxBufferBytes != nil && *c.MaxBufferBytes < 0x10000+6 {
		return fmt.Errorf("max_buffer_bytes must hold the largest frame (%d), got %d", 0x10000+6, *c.MaxBufferBytes)
	}
	if c.VersionLength != nil && *c.VersionLength < 1 {
		return fmt.Errorf("version_length must be positive, got %d", *c.VersionLength)
	}
	for name, v := range map[string]*string{
		"poll_initial":        c.PollInitial,
		"poll_interval":       c.PollInterval,
		"idle_check_interval": c.IdleCheckInterval,
		"tick_interval":       c.TickInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetSmoothingEnabled returns smoothing_enabled or true.
func (c *TrackerConfig) GetSmoothingEnabled() bool {
	if c.SmoothingEnabled == nil {
		return true
	}
	return *c.SmoothingEnabled
}

// GetFilterWindow returns filter_window or 10.
func (c *TrackerConfig) GetFilterWindow() int { return intOr(c.FilterWindow, 10) }

// GetHistoryLength returns history_length or 100.
func (c *TrackerConfig) GetHistoryLength() int { return intOr(c.HistoryLength, 100) }

// GetCalibrationWarmup returns calibration_warmup or 200.
func (c *TrackerConfig) GetCalibrationWarmup() int { return intOr(c.CalibrationWarmup, 200) }

// GetCalibrationSamples returns calibration_samples or 200.
func (c *TrackerConfig) GetCalibrationSamples() int { return intOr(c.CalibrationSamples, 200) }

// GetPollInitial returns poll_initial or 2s.
func (c *TrackerConfig) GetPollInitial() time.Duration {
	return durationOr(c.PollInitial, 2*time.Second)
}

// GetPollInterval returns poll_interval or 20s.
func (c *TrackerConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 20*time.Second)
}

// GetIdleCheckInterval returns idle_check_interval or 10s.
func (c *TrackerConfig) GetIdleCheckInterval() time.Duration {
	return durationOr(c.IdleCheckInterval, 10*time.Second)
}

// GetTickInterval returns tick_interval or 500ms.
func (c *TrackerConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 500*time.Millisecond)
}

// GetMaxBufferBytes returns max_buffer_bytes or 128 KiB.
func (c *TrackerConfig) GetMaxBufferBytes() int { return intOr(c.MaxBufferBytes, 128*1024) }

// GetVersionLength returns version_length or 10.
func (c *TrackerConfig) GetVersionLength() int { return intOr(c.VersionLength, 10) }
