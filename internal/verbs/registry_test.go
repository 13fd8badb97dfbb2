package verbs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfwright/internal/lane"
	"surfwright/internal/runtimepool"
	"surfwright/internal/types"
	"surfwright/internal/worker"
)

// noopLeaser grants an instant no-op lease. Wire's target.* verbs
// classify as run-verbs, so Dispatch calls Acquire for them and gets this
// empty lease instead of a real chromedp-backed one.
type noopLeaser struct{}

func (noopLeaser) Acquire(ctx context.Context, sessionID, cdpOrigin string, timeout time.Duration) (*runtimepool.Lease, error) {
	return &runtimepool.Lease{}, nil
}

func TestWireRegistersEveryContractCommand(t *testing.T) {
	store := newTestStore(t)
	registry := BuildContractRegistry("surfwright", "test")
	report := registry.Build()

	o := worker.New(worker.DefaultConfig(), lane.New(lane.DefaultConfig(), nil), noopLeaser{}, nil, nil)
	Wire(o, store, registry)

	for _, cmd := range report.Commands {
		resp := o.Dispatch(context.Background(), types.RequestFrame{Kind: cmd.ID, Payload: []byte(`{"cdpOrigin":"ws://127.0.0.1:9222","sessionId":"x","targetId":"y","timeoutMs":50}`)})
		assert.NotContains(t, resp.Stderr, "no verb registered", "kind %q", cmd.ID)
	}
}

func TestBuildContractRegistryFingerprintIsStable(t *testing.T) {
	a := BuildContractRegistry("surfwright", "test").Build()
	b := BuildContractRegistry("surfwright", "test").Build()
	require.Equal(t, a.ContractFingerprint, b.ContractFingerprint)
}
