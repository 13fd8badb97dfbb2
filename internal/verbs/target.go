package verbs

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"surfwright/internal/runtimepool"
	"surfwright/internal/state"
	"surfwright/internal/types"
	"surfwright/internal/worker"
)

// Targets implements the minimal target-observation pair: a snapshot read
// of what the core has persisted, and a bounded wait for a target to
// appear. Neither drives CDP directly — enumerating live pages and
// reacting to navigation events is a browser-verb concern outside this
// repo's scope (spec.md §"Non-goals"); these demonstrate the interaction
// contract a real verb would sit behind (lease acquisition already
// happened by the time the orchestrator calls in, cancellation via ctx).
type Targets struct {
	store *state.Store
}

// NewTargets builds a Targets verb group bound to store.
func NewTargets(store *state.Store) *Targets {
	return &Targets{store: store}
}

type targetSnapshotRequest struct {
	SessionID string `json:"sessionId"`
}

type targetSnapshotResponse struct {
	Targets []*types.Target `json:"targets"`
}

// Snapshot returns the persisted targets for a session, oldest first.
func (t *Targets) Snapshot(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in targetSnapshotRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return 1, types.NewError(types.ErrInternal, false, "decode target.snapshot payload: %v", err)
	}
	if in.SessionID == "" {
		return 1, types.NewError(types.ErrSessionRequired, false, "sessionId is required")
	}

	env, err := t.store.ReadState()
	if err != nil {
		return 1, err
	}
	if _, ok := env.Sessions[in.SessionID]; !ok {
		return 1, types.NewError(types.ErrTargetSessionUnknown, false, "session %q not found", in.SessionID)
	}

	var matched []*types.Target
	for _, target := range env.Targets {
		if target.SessionID == in.SessionID {
			matched = append(matched, target)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.Before(matched[j].UpdatedAt) })

	body, _ := json.Marshal(targetSnapshotResponse{Targets: matched})
	out.Write(body)
	return 0, nil
}

type targetWaitRequest struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// Wait polls the state store for targetId to appear under sessionId,
// honoring both the request's own timeout budget and ctx cancellation —
// the same "queue_wait -> acquire -> action" budget composition the
// scheduling model describes, with this verb's action phase being the
// poll loop.
func (t *Targets) Wait(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	var in targetWaitRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return 1, types.NewError(types.ErrInternal, false, "decode target.wait payload: %v", err)
	}
	if in.SessionID == "" || in.TargetID == "" {
		return 1, types.NewError(types.ErrSessionRequired, false, "sessionId and targetId are required")
	}
	timeout := time.Duration(in.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		env, err := t.store.ReadState()
		if err != nil {
			return 1, err
		}
		if target, ok := env.Targets[in.TargetID]; ok && target.SessionID == in.SessionID {
			body, _ := json.Marshal(target)
			out.Write(body)
			return 0, nil
		}

		select {
		case <-ctx.Done():
			return 1, types.NewError(types.ErrWaitTimeout, true, "wait for target %q cancelled: %v", in.TargetID, ctx.Err())
		case <-deadline:
			return 1, types.NewError(types.ErrWaitTimeout, true, "target %q did not appear within %s", in.TargetID, timeout)
		case <-ticker.C:
		}
	}
}
