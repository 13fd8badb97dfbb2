package state

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"surfwright/internal/types"
)

// Sharded layout under <stateRoot>/state-v2/. meta.json carries the
// scalar envelope fields (version, activeSessionId, ordinals, revision);
// sessions/network-captures/network-artifacts are one file each; targets
// are split into one file per session. writeShards rewrites every shard
// on each mutation.
const (
	shardDir           = "state-v2"
	metaShardFile      = "meta.json"
	sessionsShardFile  = "sessions.json"
	capturesShardFile  = "network-captures.json"
	artifactsShardFile = "network-artifacts.json"
	targetsSubdir      = "targets-by-session"
	legacyStateFile    = "state.json"
)

type metaShard struct {
	Version             int     `json:"version"`
	ActiveSessionID     *string `json:"activeSessionId,omitempty"`
	NextSessionOrdinal  uint64  `json:"nextSessionOrdinal"`
	NextCaptureOrdinal  uint64  `json:"nextCaptureOrdinal"`
	NextArtifactOrdinal uint64  `json:"nextArtifactOrdinal"`
	Revision            uint64  `json:"revision"`
}

// writeAtomic writes data to path via write-to-temp-then-rename so a
// reader never observes a partially written shard.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// writeShards persists every shard of env atomically, one file at a time.
// Callers hold the state lock for the duration of the call.
func writeShards(root string, env *types.StateEnvelope) error {
	dir := filepath.Join(root, shardDir)

	meta := metaShard{
		Version:             env.Version,
		ActiveSessionID:     env.ActiveSessionID,
		NextSessionOrdinal:  env.NextSessionOrdinal,
		NextCaptureOrdinal:  env.NextCaptureOrdinal,
		NextArtifactOrdinal: env.NextArtifactOrdinal,
		Revision:            env.Revision,
	}
	if err := writeJSONAtomic(filepath.Join(dir, metaShardFile), meta); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, sessionsShardFile), env.Sessions); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, capturesShardFile), env.NetworkCaptures); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, artifactsShardFile), env.NetworkArtifacts); err != nil {
		return err
	}

	bySession := make(map[string]map[string]*types.Target)
	for id, t := range env.Targets {
		bySession[t.SessionID] = assign(bySession[t.SessionID], id, t)
	}
	targetsDir := filepath.Join(dir, targetsSubdir)
	if err := os.MkdirAll(targetsDir, 0o755); err != nil {
		return err
	}
	for sessionID, shard := range bySession {
		f := filepath.Join(targetsDir, url.QueryEscape(sessionID)+".json")
		if err := writeJSONAtomic(f, shard); err != nil {
			return err
		}
	}
	return nil
}

func assign(m map[string]*types.Target, id string, t *types.Target) map[string]*types.Target {
	if m == nil {
		m = make(map[string]*types.Target)
	}
	m[id] = t
	return m
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// readShards loads the sharded representation, returning (nil, false, nil)
// when no shard directory exists yet (fresh state root).
func readShards(root string) (*types.StateEnvelope, bool, error) {
	dir := filepath.Join(root, shardDir)
	metaPath := filepath.Join(dir, metaShardFile)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	var meta metaShard
	if err := readJSON(metaPath, &meta); err != nil {
		return nil, true, err
	}

	env := types.NewEmptyEnvelope()
	env.Version = meta.Version
	env.ActiveSessionID = meta.ActiveSessionID
	env.NextSessionOrdinal = meta.NextSessionOrdinal
	env.NextCaptureOrdinal = meta.NextCaptureOrdinal
	env.NextArtifactOrdinal = meta.NextArtifactOrdinal
	env.Revision = meta.Revision

	if err := readJSONIfExists(filepath.Join(dir, sessionsShardFile), &env.Sessions); err != nil {
		return nil, true, err
	}
	if err := readJSONIfExists(filepath.Join(dir, capturesShardFile), &env.NetworkCaptures); err != nil {
		return nil, true, err
	}
	if err := readJSONIfExists(filepath.Join(dir, artifactsShardFile), &env.NetworkArtifacts); err != nil {
		return nil, true, err
	}

	targetsDir := filepath.Join(dir, targetsSubdir)
	entries, err := os.ReadDir(targetsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, true, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var shard map[string]*types.Target
		if err := readJSON(filepath.Join(targetsDir, entry.Name()), &shard); err != nil {
			return nil, true, err
		}
		for id, t := range shard {
			env.Targets[id] = t
		}
	}

	return env, true, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func readJSONIfExists(path string, v any) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return readJSON(path, v)
}
