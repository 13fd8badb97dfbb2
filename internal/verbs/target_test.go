package verbs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfwright/internal/types"
	"surfwright/internal/worker"
)

func seedTarget(t *testing.T, store interface {
	WithMutation(fn func(env *types.StateEnvelope) error) (*types.StateEnvelope, error)
}, sessionID, targetID string) {
	t.Helper()
	_, err := store.WithMutation(func(env *types.StateEnvelope) error {
		env.Sessions[sessionID] = &types.Session{SessionID: sessionID, Kind: types.SessionManaged, CreatedAt: time.Now(), LastSeenAt: time.Now()}
		env.Targets[targetID] = &types.Target{TargetID: targetID, SessionID: sessionID, URL: "https://example.com", UpdatedAt: time.Now()}
		return nil
	})
	require.NoError(t, err)
}

func TestTargetsSnapshotReturnsOnlyMatchingSession(t *testing.T) {
	store := newTestStore(t)
	seedTarget(t, store, "s1", "t1")
	seedTarget(t, store, "s2", "t2")

	tv := NewTargets(store)
	out := worker.NewCapturedOutput(1 << 16)
	code, err := tv.Snapshot(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"s1"}`)}, out, worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var resp targetSnapshotResponse
	require.NoError(t, json.Unmarshal([]byte(out.String()), &resp))
	require.Len(t, resp.Targets, 1)
	assert.Equal(t, "t1", resp.Targets[0].TargetID)
}

func TestTargetsSnapshotUnknownSessionFails(t *testing.T) {
	store := newTestStore(t)
	tv := NewTargets(store)
	_, err := tv.Snapshot(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"ghost"}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrTargetSessionUnknown)
}

func TestTargetsWaitReturnsImmediatelyWhenAlreadyPresent(t *testing.T) {
	store := newTestStore(t)
	seedTarget(t, store, "s1", "t1")

	tv := NewTargets(store)
	out := worker.NewCapturedOutput(1 << 16)
	code, err := tv.Wait(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"s1","targetId":"t1","timeoutMs":1000}`)}, out, worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got types.Target
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.Equal(t, "t1", got.TargetID)
}

func TestTargetsWaitTimesOutWhenTargetNeverAppears(t *testing.T) {
	store := newTestStore(t)
	tv := NewTargets(store)
	_, err := tv.Wait(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"s1","targetId":"ghost","timeoutMs":120}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrWaitTimeout)
}

func TestTargetsWaitRequiresSessionAndTargetID(t *testing.T) {
	store := newTestStore(t)
	tv := NewTargets(store)
	_, err := tv.Wait(context.Background(), nil, types.RequestFrame{Payload: []byte(`{}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrSessionRequired)
}
