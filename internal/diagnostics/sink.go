package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventKind discriminates the records written to the diagnostics sink.
type EventKind string

const (
	EventDispatch          EventKind = "dispatch"
	EventQueueReject       EventKind = "queue_reject"
	EventRuntimeTransition EventKind = "runtime_transition"
	EventIsolationBreak    EventKind = "isolation_break"
	EventStateQuarantine   EventKind = "state_quarantine"
)

// redactedFields never appear in a sink record's Fields payload even if a
// caller passes them; they are dropped rather than escaped, since a
// truncated secret is still a secret.
var redactedFields = map[string]bool{
	"token":    true,
	"password": true,
	"secret":   true,
	"cookie":   true,
}

// Event is one append-only NDJSON line. Fields carries event-specific
// detail; any key in redactedFields is stripped before it is ever
// marshaled, not just before it is printed.
type Event struct {
	Time   time.Time      `json:"time"`
	Kind   EventKind      `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink is an append-only, size-rotated NDJSON writer for the event/metric
// stream described in §4.1. One Sink per agent scope, opened for the
// lifetime of the daemon process.
type Sink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	hub    *Hub
}

// AttachHub wires a Hub so every future Emit also fans its line out to
// live websocket subscribers, in addition to the NDJSON file.
func (s *Sink) AttachHub(hub *Hub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub = hub
}

// NewSink opens (creating parent directories as needed) the NDJSON sink at
// <stateRoot>/diagnostics.ndjson, rotated the same way the operational log
// is: size-capped with bounded backups.
func NewSink(stateRoot string) (*Sink, error) {
	path := filepath.Join(stateRoot, "diagnostics.ndjson")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Sink{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		},
	}, nil
}

// Emit appends one event. Emit never blocks on a slow reader: the
// underlying file write is buffered by the OS page cache, and a write
// error is swallowed after one retry since diagnostics must never fail a
// request on the caller's behalf.
func (s *Sink) Emit(kind EventKind, fields map[string]any) {
	if s == nil {
		return
	}
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if redactedFields[k] {
			continue
		}
		clean[k] = v
	}
	line, err := json.Marshal(Event{Time: time.Now(), Kind: kind, Fields: clean})
	if err != nil {
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	hub := s.hub
	if _, err := s.writer.Write(line); err != nil {
		_, _ = s.writer.Write(line)
	}
	s.mu.Unlock()

	if hub != nil {
		hub.Broadcast(line)
	}
}

// Close flushes and closes the underlying rotated file.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
