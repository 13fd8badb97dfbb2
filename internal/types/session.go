package types

import "time"

// SessionKind decides whether the process under control is owned by this
// installation (managed) or merely observed (attached).
type SessionKind string

const (
	SessionManaged  SessionKind = "managed"
	SessionAttached SessionKind = "attached"
)

// SessionPolicy controls whether a session survives across daemon restarts.
type SessionPolicy string

const (
	SessionPersistent SessionPolicy = "persistent"
	SessionEphemeral  SessionPolicy = "ephemeral"
)

// BrowserMode records whether the controlled Chrome runs headless or headed.
type BrowserMode string

const (
	BrowserHeadless BrowserMode = "headless"
	BrowserHeaded   BrowserMode = "headed"
	BrowserUnknown  BrowserMode = "unknown"
)

// Session is the persisted identity of a browser under control. SessionId
// is unique; Kind decides ownership semantics. Managed sessions may carry
// BrowserPid/UserDataDir; attached sessions must not.
type Session struct {
	SessionID                string        `json:"sessionId"`
	Kind                     SessionKind   `json:"kind"`
	Policy                   SessionPolicy `json:"policy"`
	CDPOrigin                string        `json:"cdpOrigin"`
	DebugPort                *int          `json:"debugPort,omitempty"`
	UserDataDir              *string       `json:"userDataDir,omitempty"`
	BrowserPid               *int          `json:"browserPid,omitempty"`
	OwnerID                  *string       `json:"ownerId,omitempty"`
	LeaseExpiresAt           *time.Time    `json:"leaseExpiresAt,omitempty"`
	LeaseTTLMs               *int64        `json:"leaseTtlMs,omitempty"`
	ManagedUnreachableSince  *time.Time    `json:"managedUnreachableSince,omitempty"`
	ManagedUnreachableCount  int           `json:"managedUnreachableCount"`
	BrowserMode              BrowserMode   `json:"browserMode"`
	CreatedAt                time.Time     `json:"createdAt"`
	LastSeenAt               time.Time     `json:"lastSeenAt"`
}

// Authority is the lane/pool key derivation: explicit sessionId when
// present, else "origin:<cdpOrigin>". Matches the glossary's "session
// authority".
func (s *Session) Authority() string {
	if s == nil {
		return ""
	}
	if s.SessionID != "" {
		return s.SessionID
	}
	return "origin:" + s.CDPOrigin
}

// Target is an observed page/tab, never authored directly by a caller.
type Target struct {
	TargetID  string    `json:"targetId"`
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Status    *string   `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NetworkCapture and NetworkArtifact are referenced by StateEnvelope but
// owned by the (out-of-scope) network-capture browser verb; the control
// plane only allocates their ordinals and persists their shard.
type NetworkCapture struct {
	CaptureID string    `json:"captureId"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
}

type NetworkArtifact struct {
	ArtifactID string    `json:"artifactId"`
	CaptureID  string    `json:"captureId"`
	Path       string    `json:"path"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CurrentStateVersion is the schema constant StateEnvelope.Version must
// equal for a read to be accepted. Mismatches are quarantined, never
// silently upgraded (§4.2).
const CurrentStateVersion = 2

// StateEnvelope is the full persisted state of one agent scope.
type StateEnvelope struct {
	Version             int                         `json:"version"`
	ActiveSessionID      *string                     `json:"activeSessionId,omitempty"`
	NextSessionOrdinal   uint64                      `json:"nextSessionOrdinal"`
	NextCaptureOrdinal   uint64                      `json:"nextCaptureOrdinal"`
	NextArtifactOrdinal  uint64                      `json:"nextArtifactOrdinal"`
	Sessions             map[string]*Session         `json:"sessions"`
	Targets              map[string]*Target          `json:"targets"`
	NetworkCaptures      map[string]*NetworkCapture  `json:"networkCaptures"`
	NetworkArtifacts     map[string]*NetworkArtifact `json:"networkArtifacts"`
	Revision             uint64                      `json:"revision"`
}

// NewEmptyEnvelope returns a zero-value envelope at the current schema
// version, used for a state root with no state file, including the read
// that follows a quarantine of a corrupt/mismatched file.
func NewEmptyEnvelope() *StateEnvelope {
	return &StateEnvelope{
		Version:          CurrentStateVersion,
		Sessions:         make(map[string]*Session),
		Targets:          make(map[string]*Target),
		NetworkCaptures:  make(map[string]*NetworkCapture),
		NetworkArtifacts: make(map[string]*NetworkArtifact),
	}
}
