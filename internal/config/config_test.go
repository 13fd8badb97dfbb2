package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Lane.PerLaneQueueCap)
	assert.Equal(t, 64, cfg.Pool.MaxEntries)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id: bot-7
lane:
  per_lane_queue_cap: 16
pool:
  max_entries: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bot-7", cfg.AgentID)
	assert.Equal(t, 16, cfg.Lane.PerLaneQueueCap)
	assert.Equal(t, 4, cfg.Pool.MaxEntries)
	// untouched knobs still fall back to Lean v1 defaults
	assert.Equal(t, 2, cfg.Pool.TimeoutHardCloseThreshold)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id: from-file\n"), 0o644))

	t.Setenv("SURFWRIGHT_AGENT_ID", "from-env")
	t.Setenv("SURFWRIGHT_LOG_LEVEL", "debug")
	t.Setenv("SURFWRIGHT_DAEMON", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AgentID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Daemon.Enabled)
}

func TestStateRootResolution(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/explicit/override"
	root, err := cfg.StateRoot()
	require.NoError(t, err)
	assert.Equal(t, "/explicit/override", root)

	cfg = Default()
	cfg.StateDir = ""
	cfg.WorkspaceDir = "/home/agent"
	cfg.AgentID = "bot-7"
	root, err = cfg.StateRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/agent", ".surfwright", "agents", "bot-7"), root)

	cfg.AgentID = ""
	root, err = cfg.StateRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/agent", ".surfwright"), root)
}
