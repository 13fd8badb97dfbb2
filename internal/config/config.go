// Package config resolves SurfWright's startup configuration: a YAML file
// overlaid with SURFWRIGHT_* environment variables, split into fields the
// reloader merges on reload and fields that only take effect on restart.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig mirrors the subset of internal/logging.Config that a
// startup file or env overlay may set.
type LoggingConfig struct {
	Level      string `yaml:"level"`       // mutable — merged on reload
	Format     string `yaml:"format"`      // restart-only — the zap core isn't rebuilt mid-process
	Output     string `yaml:"output"`      // restart-only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LaneConfig mirrors internal/lane.Config.
type LaneConfig struct {
	PerLaneConcurrency int           `yaml:"per_lane_concurrency"` // mutable
	GlobalActiveCap    int           `yaml:"global_active_cap"`    // mutable
	PerLaneQueueCap    int           `yaml:"per_lane_queue_cap"`   // mutable
	WaitBudget         time.Duration `yaml:"wait_budget"`          // mutable
}

// PoolConfig mirrors internal/runtimepool.Config.
type PoolConfig struct {
	MaxEntries                int           `yaml:"max_entries"`                  // mutable
	TimeoutHardCloseThreshold int           `yaml:"timeout_hard_close_threshold"` // mutable
	WarmTimeout               time.Duration `yaml:"warm_timeout"`                 // mutable
	Headless                  bool          `yaml:"headless"`                     // restart-only — only new pool entries would see a flip
}

// DaemonConfig mirrors internal/daemontransport.Config plus the bits of
// ClientConfig the ingress process needs to know about.
type DaemonConfig struct {
	Enabled        bool          `yaml:"enabled"`           // restart-only — SURFWRIGHT_DAEMON; a running process doesn't un-spawn
	IdleTimeout    time.Duration `yaml:"idle_timeout"`      // restart-only — latched into the Server at construction
	AcceptRatePerS float64       `yaml:"accept_rate_per_s"` // restart-only — the rate.Limiter is built once in New
	AcceptBurst    int           `yaml:"accept_burst"`      // restart-only
}

// Config is SurfWright's full resolved configuration: agent scope, state
// root, and the lane/pool/transport/logging tuning knobs, each carrying a
// Lean v1 default.
type Config struct {
	AgentID      string `yaml:"agent_id"`      // restart-only — changes the resolved state root
	WorkspaceDir string `yaml:"workspace_dir"` // restart-only
	StateDir     string `yaml:"state_dir"`     // restart-only — explicit override, wins over agent-scoped resolution

	Logging LoggingConfig `yaml:"logging"`
	Lane    LaneConfig    `yaml:"lane"`
	Pool    PoolConfig    `yaml:"pool"`
	Daemon  DaemonConfig  `yaml:"daemon"`
}

// Default returns the Lean v1 defaults used throughout spec.md §4.3/§4.4,
// mirrored here so a missing or partial config file still boots correctly.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Lane: LaneConfig{
			PerLaneConcurrency: 1,
			GlobalActiveCap:    8,
			PerLaneQueueCap:    8,
			WaitBudget:         2 * time.Second,
		},
		Pool: PoolConfig{
			MaxEntries:                64,
			TimeoutHardCloseThreshold: 2,
			WarmTimeout:               20 * time.Second,
			Headless:                  true,
		},
		Daemon: DaemonConfig{
			Enabled:        true,
			IdleTimeout:    10 * time.Minute,
			AcceptRatePerS: 50,
			AcceptBurst:    100,
		},
	}
}

// Load reads path as YAML over the Lean v1 defaults, applies the
// SURFWRIGHT_* environment overlay, and fills in anything still zero.
// A missing file is not an error: defaults plus env overlay are enough to
// boot.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverlay()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnvOverlay overlays the SURFWRIGHT_* environment variables on top
// of whatever the file (or the Lean v1 defaults) set.
func (c *Config) applyEnvOverlay() {
	if v := os.Getenv("SURFWRIGHT_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("SURFWRIGHT_WORKSPACE_DIR"); v != "" {
		c.WorkspaceDir = v
	}
	if v := os.Getenv("SURFWRIGHT_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("SURFWRIGHT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SURFWRIGHT_DAEMON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Daemon.Enabled = b
		}
	}
}

// applyDefaults fills in anything still zero-valued after the file and
// env overlay, the way the teacher's ApplyDefaults backstops a partial
// YAML document.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = def.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = def.Logging.MaxAgeDays
	}
	if c.Lane.PerLaneConcurrency <= 0 {
		c.Lane.PerLaneConcurrency = def.Lane.PerLaneConcurrency
	}
	if c.Lane.GlobalActiveCap <= 0 {
		c.Lane.GlobalActiveCap = def.Lane.GlobalActiveCap
	}
	if c.Lane.PerLaneQueueCap <= 0 {
		c.Lane.PerLaneQueueCap = def.Lane.PerLaneQueueCap
	}
	if c.Lane.WaitBudget <= 0 {
		c.Lane.WaitBudget = def.Lane.WaitBudget
	}
	if c.Pool.MaxEntries <= 0 {
		c.Pool.MaxEntries = def.Pool.MaxEntries
	}
	if c.Pool.TimeoutHardCloseThreshold <= 0 {
		c.Pool.TimeoutHardCloseThreshold = def.Pool.TimeoutHardCloseThreshold
	}
	if c.Pool.WarmTimeout <= 0 {
		c.Pool.WarmTimeout = def.Pool.WarmTimeout
	}
	if c.Daemon.IdleTimeout <= 0 {
		c.Daemon.IdleTimeout = def.Daemon.IdleTimeout
	}
	if c.Daemon.AcceptRatePerS <= 0 {
		c.Daemon.AcceptRatePerS = def.Daemon.AcceptRatePerS
	}
	if c.Daemon.AcceptBurst <= 0 {
		c.Daemon.AcceptBurst = def.Daemon.AcceptBurst
	}
}

// StateRoot resolves the effective state root per spec.md §2: an explicit
// StateDir override wins; else the agent-scoped path under WorkspaceDir
// (or the user's home directory) when AgentID is set; else the unscoped
// default.
func (c *Config) StateRoot() (string, error) {
	if c.StateDir != "" {
		return c.StateDir, nil
	}

	base := c.WorkspaceDir
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = home
	}
	base = filepath.Join(base, ".surfwright")

	agentID := strings.TrimSpace(c.AgentID)
	if agentID == "" {
		return base, nil
	}
	return filepath.Join(base, "agents", agentID), nil
}
