package tracker

import "github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/config"

// ConfigFrom converts a loaded configuration file into a Config. Unset fields
// take their defaults.
func ConfigFrom(c *config.TrackerConfig) Config {
	if c == nil {
		c = config.EmptyTrackerConfig()
	}
	return Config{
		Smoothing:    c.GetSmoothingEnabled(),
		Window:       c.GetFilterWindow(),
		History:      c.GetHistoryLength(),
		Warmup:       c.GetCalibrationWarmup(),
		Samples:      c.GetCalibrationSamples(),
		PollInitial:  c.GetPollInitial(),
		PollInterval: c.GetPollInterval(),
		IdleCheck:    c.GetIdleCheckInterval(),
		TickInterval: c.GetTickInterval(),
		MaxBuffer:    c.GetMaxBufferBytes(),
		VersionLen:   c.GetVersionLength(),
	}
}
