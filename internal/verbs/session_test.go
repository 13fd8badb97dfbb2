package verbs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfwright/internal/state"
	"surfwright/internal/types"
	"surfwright/internal/worker"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSessionsNewAllocatesOrdinalID(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)

	out := worker.NewCapturedOutput(1 << 16)
	errOut := worker.NewCapturedOutput(1 << 16)
	payload := []byte(`{"cdpOrigin":"ws://127.0.0.1:9222/devtools/browser/abc"}`)

	code, err := s.New(context.Background(), nil, types.RequestFrame{Kind: "session.new", Payload: payload}, out, errOut)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got types.Session
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, types.SessionManaged, got.Kind)
	assert.Equal(t, types.SessionEphemeral, got.Policy)

	env, err := store.ReadState()
	require.NoError(t, err)
	require.NotNil(t, env.ActiveSessionID)
	assert.Equal(t, "sess-1", *env.ActiveSessionID)
}

func TestSessionsNewRejectsDuplicateExplicitID(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	out := worker.NewCapturedOutput(1 << 16)
	errOut := worker.NewCapturedOutput(1 << 16)
	payload := []byte(`{"sessionId":"mine","cdpOrigin":"ws://127.0.0.1:9222"}`)

	_, err := s.New(context.Background(), nil, types.RequestFrame{Payload: payload}, out, errOut)
	require.NoError(t, err)

	_, err = s.New(context.Background(), nil, types.RequestFrame{Payload: payload}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrSessionExists)
}

func TestSessionsNewRequiresCDPOrigin(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	_, err := s.New(context.Background(), nil, types.RequestFrame{Payload: []byte(`{}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrSessionRequired)
}

func TestSessionsFreshIgnoresExplicitIDAndIsEphemeral(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	out := worker.NewCapturedOutput(1 << 16)
	payload := []byte(`{"sessionId":"should-be-ignored","cdpOrigin":"ws://127.0.0.1:9222","policy":"persistent"}`)

	code, err := s.Fresh(context.Background(), nil, types.RequestFrame{Payload: payload}, out, worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got types.Session
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.NotEqual(t, "should-be-ignored", got.SessionID)
	assert.Equal(t, types.SessionEphemeral, got.Policy)
}

func TestSessionsAttachGeneratesUUIDWhenUnspecified(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	out := worker.NewCapturedOutput(1 << 16)
	payload := []byte(`{"cdpOrigin":"ws://127.0.0.1:9333"}`)

	code, err := s.Attach(context.Background(), nil, types.RequestFrame{Payload: payload}, out, worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got types.Session
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.NotEmpty(t, got.SessionID)
	assert.Equal(t, types.SessionAttached, got.Kind)
	assert.Equal(t, types.SessionPersistent, got.Policy)
}

func TestSessionsClearRemovesSessionAndClearsActive(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	out := worker.NewCapturedOutput(1 << 16)
	_, err := s.New(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"a","cdpOrigin":"ws://x"}`)}, out, worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)

	code, err := s.Clear(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"a"}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	env, err := store.ReadState()
	require.NoError(t, err)
	assert.Nil(t, env.ActiveSessionID)
	_, exists := env.Sessions["a"]
	assert.False(t, exists)
}

func TestSessionsClearUnknownSessionFails(t *testing.T) {
	store := newTestStore(t)
	s := NewSessions(store)
	_, err := s.Clear(context.Background(), nil, types.RequestFrame{Payload: []byte(`{"sessionId":"ghost"}`)}, worker.NewCapturedOutput(1<<16), worker.NewCapturedOutput(1<<16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), types.ErrTargetSessionUnknown)
}
