package config

import (
	"surfwright/internal/daemontransport"
	"surfwright/internal/lane"
	"surfwright/internal/logging"
	"surfwright/internal/runtimepool"
)

// LaneSchedulerConfig converts to internal/lane.Config.
func (c *Config) LaneSchedulerConfig() lane.Config {
	return lane.Config{
		PerLaneConcurrency: c.Lane.PerLaneConcurrency,
		GlobalActiveCap:    c.Lane.GlobalActiveCap,
		PerLaneQueueCap:    c.Lane.PerLaneQueueCap,
		WaitBudget:         c.Lane.WaitBudget,
	}
}

// RuntimePoolConfig converts to internal/runtimepool.Config.
func (c *Config) RuntimePoolConfig() runtimepool.Config {
	return runtimepool.Config{
		MaxEntries:                c.Pool.MaxEntries,
		TimeoutHardCloseThreshold: c.Pool.TimeoutHardCloseThreshold,
		WarmTimeout:               c.Pool.WarmTimeout,
		Headless:                  c.Pool.Headless,
	}
}

// DaemonTransportConfig converts to internal/daemontransport.Config.
func (c *Config) DaemonTransportConfig() daemontransport.Config {
	return daemontransport.Config{
		IdleTimeout:    c.Daemon.IdleTimeout,
		AcceptRatePerS: c.Daemon.AcceptRatePerS,
		AcceptBurst:    c.Daemon.AcceptBurst,
	}
}

// LoggerConfig converts to internal/logging.Config.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		MaxSize:    c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
