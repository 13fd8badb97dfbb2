package verbs

import (
	"context"
	"encoding/json"

	"surfwright/internal/contract"
	"surfwright/internal/runtimepool"
	"surfwright/internal/types"
	"surfwright/internal/worker"
)

// Contract exposes the Contract Registry (C7) report as the "contract"
// control op, letting any caller (or a CI fingerprint check) fetch it
// over the same daemon path as every other verb instead of a one-off
// bypass.
type Contract struct {
	registry *contract.Registry
}

// NewContract binds a Contract verb to registry. Build a registry with
// every command/error registered before wiring this in.
func NewContract(registry *contract.Registry) *Contract {
	return &Contract{registry: registry}
}

// Report marshals the registry's current Report to stdout.
func (c *Contract) Report(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *worker.CapturedOutput) (int, error) {
	body, err := json.Marshal(c.registry.Build())
	if err != nil {
		return 1, types.NewError(types.ErrInternal, false, "marshal contract report: %v", err)
	}
	out.Write(body)
	return 0, nil
}
