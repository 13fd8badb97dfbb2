package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"surfwright/internal/types"
)

// readLegacy loads the pre-sharding single-file state.json, if present.
// Kept read-compatible per spec §4.6; never written by the current store.
func readLegacy(root string) (*types.StateEnvelope, bool, error) {
	path := filepath.Join(root, legacyStateFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	var env types.StateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, true, err
	}
	return &env, true, nil
}

// quarantine moves the offending file at path aside to
// state.corrupt.<UTC timestamp> (see nowStamp), writes nothing in its
// place, and returns a nil envelope with code as a typed error —
// per spec §4.2 the caller must see E_STATE_READ/E_STATE_VERSION rather
// than silently proceeding on an empty envelope. The next read against
// this root (the quarantined file is already moved aside by then)
// succeeds normally. Used on both unmarshal failure and schema version
// mismatch; the store never attempts to upgrade a mismatched payload in
// place.
func quarantine(root, path, code string) (*types.StateEnvelope, error) {
	if _, err := os.Stat(path); err == nil {
		dest := filepath.Join(root, "state.corrupt."+nowStamp())
		if err := os.Rename(path, dest); err != nil {
			return nil, types.NewError(types.ErrStateRead, false, "quarantine %s: %v", path, err)
		}
	}
	return nil, types.NewError(code, false, "quarantined %s, state reset to empty", path)
}

// nowStamp is overridable in tests; production code always uses wall time.
var nowStamp = func() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}
