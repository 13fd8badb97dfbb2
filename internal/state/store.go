// Package state implements the agent-scoped, sharded, versioned,
// lock-guarded State Store (spec §4.2). It is the only package permitted
// to mutate the persisted envelope; every other component receives
// read-only views.
package state

import (
	"os"
	"path/filepath"
	"strconv"

	"surfwright/internal/types"
)

// Store is bound to one resolved state root for its lifetime. Build one
// per agent scope; it is safe for concurrent use, synchronizing all
// writers through the on-disk lock file.
type Store struct {
	root string
}

// Open binds a Store to an already resolved state root (see
// config.Config.StateRoot) and ensures the directory exists.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.NewError(types.ErrInternal, false, "create state root %s: %v", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the resolved state root directory.
func (s *Store) Root() string { return s.root }

// ReadState loads the current envelope under the exclusive advisory lock.
// A parse failure or schema version mismatch quarantines the offending
// file and returns a nil envelope with a typed E_STATE_READ/E_STATE_VERSION
// error rather than upgrading in place; the next read starts from an
// empty envelope.
func (s *Store) ReadState() (*types.StateEnvelope, error) {
	lock, err := acquireLock(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.release()

	return s.readLocked()
}

// readLocked assumes the caller already holds the lock.
func (s *Store) readLocked() (*types.StateEnvelope, error) {
	offendingPath := filepath.Join(s.root, shardDir, metaShardFile)
	env, found, err := readShards(s.root)
	if err != nil {
		return quarantine(s.root, offendingPath, types.ErrStateRead)
	}
	if !found {
		offendingPath = filepath.Join(s.root, legacyStateFile)
		env, found, err = readLegacy(s.root)
		if err != nil {
			return quarantine(s.root, offendingPath, types.ErrStateRead)
		}
	}
	if !found {
		return types.NewEmptyEnvelope(), nil
	}
	if env.Version != types.CurrentStateVersion {
		return quarantine(s.root, offendingPath, types.ErrStateVersion)
	}
	return env, nil
}

// WithMutation acquires the exclusive lock, loads the current envelope,
// applies fn, bumps Revision, and writes every shard atomically before
// releasing the lock. fn's return error aborts the mutation: nothing is
// written and the error is propagated to the caller.
func (s *Store) WithMutation(fn func(env *types.StateEnvelope) error) (*types.StateEnvelope, error) {
	lock, err := acquireLock(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.release()

	env, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	if err := fn(env); err != nil {
		return nil, err
	}
	env.Revision++

	if err := writeShards(s.root, env); err != nil {
		return nil, types.NewError(types.ErrInternal, false, "write state: %v", err)
	}
	return env, nil
}

// AllocateSessionID stamps and returns the next monotonic session
// ordinal, formatted "sess-<n>". Must be called from within WithMutation.
func AllocateSessionID(env *types.StateEnvelope) string {
	env.NextSessionOrdinal++
	return ordinalID("sess", env.NextSessionOrdinal)
}

// AllocateCaptureID stamps and returns the next capture ordinal.
func AllocateCaptureID(env *types.StateEnvelope) string {
	env.NextCaptureOrdinal++
	return ordinalID("cap", env.NextCaptureOrdinal)
}

// AllocateArtifactID stamps and returns the next artifact ordinal.
func AllocateArtifactID(env *types.StateEnvelope) string {
	env.NextArtifactOrdinal++
	return ordinalID("artifact", env.NextArtifactOrdinal)
}

func ordinalID(prefix string, n uint64) string {
	return prefix + "-" + strconv.FormatUint(n, 10)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.root, ".lock")
}
