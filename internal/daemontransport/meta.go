// Package daemontransport implements the Daemon Transport (C5): a
// loopback-only, newline-delimited-JSON, one-request-per-connection
// control socket, plus the daemon.json metadata file that lets the
// ingress client find and authenticate to a running daemon.
package daemontransport

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"surfwright/internal/types"
)

const metaFileName = "daemon.json"

// MetaPath returns the path to daemon.json under stateRoot.
func MetaPath(stateRoot string) string {
	return filepath.Join(stateRoot, metaFileName)
}

// GenerateToken returns a fresh random hex auth token.
func GenerateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("daemontransport: generate token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// WriteMeta writes daemon.json atomically with mode 0600. Any existing
// file at path is replaced.
func WriteMeta(stateRoot string, meta types.DaemonMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("daemontransport: marshal meta: %w", err)
	}
	path := MetaPath(stateRoot)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("daemontransport: write meta temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("daemontransport: rename meta: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// ReadMeta loads daemon.json, hardening its permissions first. Returns
// (nil, false, nil) if no meta file exists (no daemon running).
func ReadMeta(stateRoot string) (*types.DaemonMeta, bool, error) {
	path := MetaPath(stateRoot)
	if !hardenPermissions(path) {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("daemontransport: read meta: %w", err)
	}
	var meta types.DaemonMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		// Corrupt metadata is equivalent to no daemon: remove and report absent.
		os.Remove(path)
		return nil, false, nil
	}
	return &meta, true, nil
}

// RemoveMeta deletes daemon.json if present. Called on clean shutdown.
func RemoveMeta(stateRoot string) error {
	err := os.Remove(MetaPath(stateRoot))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// hardenPermissions verifies daemon.json is mode 0600 and owned by the
// current euid. Weak or unverifiable metadata is deleted so a stale or
// tampered file never authenticates a client. Returns false if the file
// is absent or was deleted as weak.
func hardenPermissions(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if info.Mode()&0o077 != 0 {
		os.Remove(path)
		return false
	}
	if !ownedByCurrentUser(info) {
		os.Remove(path)
		return false
	}
	return true
}

// constantTimeTokenEqual compares tokens without leaking timing
// information about how many leading bytes matched.
func constantTimeTokenEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newDaemonMeta(port int, token string) types.DaemonMeta {
	return types.DaemonMeta{
		PID:       os.Getpid(),
		Host:      "127.0.0.1",
		Port:      port,
		Token:     token,
		StartedAt: time.Now(),
	}
}
