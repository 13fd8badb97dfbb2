package types

import (
	"encoding/json"
	"time"
)

// MaxFrameBytes is the wire frame size cap, enforced on both the request
// and response direction (spec §3, §4.5, invariant 4 of §8).
const MaxFrameBytes = 4 << 20 // 4 MiB

// RequestFrame is a single newline-delimited JSON object carrying one
// daemon request. Exactly one is read per connection.
type RequestFrame struct {
	Token   string          `json:"token"`
	Kind    string          `json:"kind"`
	Argv    []string        `json:"argv,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResponseFrame is the single reply written before the connection closes.
type ResponseFrame struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// DaemonMeta is persisted at <stateRoot>/daemon.json, mode 0600, owned by
// the current user.
type DaemonMeta struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"startedAt"`
}
