// Package verbs wires the control-op and demo run-verb bodies the worker
// orchestrator dispatches to: session lifecycle (new/fresh/attach/clear),
// a minimal target-observation pair, and the contract report. Browser
// automation verbs themselves (snapshot, click, fill, extract, network
// capture) are out of this repo's scope; these exist only to exercise
// C2-C7's interaction contract end to end.
package verbs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"surfwright/internal/runtimepool"
	"surfwright/internal/state"
	"surfwright/internal/types"
	"surfwright/internal/worker"
)

// Sessions implements the session.* control ops against a state Store.
type Sessions struct {
	store *state.Store
}

// NewSessions builds a Sessions verb group bound to store.
func NewSessions(store *state.Store) *Sessions {
	return &Sessions{store: store}
}

type sessionNewRequest struct {
	SessionID string              `json:"sessionId"`
	CDPOrigin string              `json:"cdpOrigin"`
	Kind      types.SessionKind   `json:"kind"`
	Policy    types.SessionPolicy `json:"policy"`
}

// New registers a session the daemon manages or observes. If SessionID is
// empty one is allocated from the envelope's ordinal counter; the caller
// may also pin an explicit id (e.g. a human-chosen alias).
func (s *Sessions) New(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in sessionNewRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return 1, types.NewError(types.ErrInternal, false, "decode session.new payload: %v", err)
		}
	}
	if in.CDPOrigin == "" {
		return 1, types.NewError(types.ErrSessionRequired, false, "cdpOrigin is required")
	}
	if in.Kind == "" {
		in.Kind = types.SessionManaged
	}
	if in.Policy == "" {
		in.Policy = types.SessionEphemeral
	}

	var created *types.Session
	_, err := s.store.WithMutation(func(env *types.StateEnvelope) error {
		id := in.SessionID
		if id == "" {
			id = state.AllocateSessionID(env)
		} else if _, exists := env.Sessions[id]; exists {
			return types.NewError(types.ErrSessionExists, false, "session %q already exists", id)
		}
		now := time.Now()
		created = &types.Session{
			SessionID:   id,
			Kind:        in.Kind,
			Policy:      in.Policy,
			CDPOrigin:   in.CDPOrigin,
			BrowserMode: types.BrowserUnknown,
			CreatedAt:   now,
			LastSeenAt:  now,
		}
		env.Sessions[id] = created
		env.ActiveSessionID = &created.SessionID
		return nil
	})
	if err != nil {
		return 1, err
	}

	body, _ := json.Marshal(created)
	out.Write(body)
	return 0, nil
}

// Fresh is New with an implicit, always-ephemeral, always-allocated id —
// "give me a clean session and don't ask me to name it."
func (s *Sessions) Fresh(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in sessionNewRequest
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &in)
	}
	in.SessionID = ""
	in.Policy = types.SessionEphemeral
	freshPayload, _ := json.Marshal(in)
	return s.New(ctx, lease, types.RequestFrame{Kind: req.Kind, Token: req.Token, Payload: freshPayload}, out, errOut)
}

type sessionAttachRequest struct {
	SessionID string `json:"sessionId"`
	CDPOrigin string `json:"cdpOrigin"`
}

// Attach records an externally-owned browser (kind=attached) as a
// session. Attached sessions never carry BrowserPid/UserDataDir.
func (s *Sessions) Attach(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in sessionAttachRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return 1, types.NewError(types.ErrInternal, false, "decode session.attach payload: %v", err)
	}
	if in.CDPOrigin == "" {
		return 1, types.NewError(types.ErrSessionRequired, false, "cdpOrigin is required")
	}

	var attached *types.Session
	_, err := s.store.WithMutation(func(env *types.StateEnvelope) error {
		id := in.SessionID
		if id == "" {
			id = uuid.NewString()
		} else if _, exists := env.Sessions[id]; exists {
			return types.NewError(types.ErrSessionExists, false, "session %q already exists", id)
		}
		now := time.Now()
		attached = &types.Session{
			SessionID:   id,
			Kind:        types.SessionAttached,
			Policy:      types.SessionPersistent,
			CDPOrigin:   in.CDPOrigin,
			BrowserMode: types.BrowserUnknown,
			CreatedAt:   now,
			LastSeenAt:  now,
		}
		env.Sessions[id] = attached
		return nil
	})
	if err != nil {
		return 1, err
	}

	body, _ := json.Marshal(attached)
	out.Write(body)
	return 0, nil
}

type sessionClearRequest struct {
	SessionID string `json:"sessionId"`
}

// Clear removes a session's persisted record. It does not close a live
// runtime pool entry for the session, and the pool does not read the
// envelope, so a cached entry stays until it is evicted or closed.
func (s *Sessions) Clear(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in sessionClearRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return 1, types.NewError(types.ErrInternal, false, "decode session.clear payload: %v", err)
	}
	if in.SessionID == "" {
		return 1, types.NewError(types.ErrSessionRequired, false, "sessionId is required")
	}

	_, err := s.store.WithMutation(func(env *types.StateEnvelope) error {
		if _, ok := env.Sessions[in.SessionID]; !ok {
			return types.NewError(types.ErrTargetSessionUnknown, false, "session %q not found", in.SessionID)
		}
		delete(env.Sessions, in.SessionID)
		if env.ActiveSessionID != nil && *env.ActiveSessionID == in.SessionID {
			env.ActiveSessionID = nil
		}
		return nil
	})
	if err != nil {
		return 1, err
	}

	out.Write([]byte(`{"cleared":true}`))
	return 0, nil
}
