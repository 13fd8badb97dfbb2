package verbs

import (
	"surfwright/internal/contract"
	"surfwright/internal/state"
	"surfwright/internal/worker"
)

// BuildContractRegistry declares every command this repo implements plus
// the full baseline error taxonomy. Both cmd/surfwrightd and a CI
// fingerprint check should build from this single function so the
// contract report can never drift from what Wire actually registers.
func BuildContractRegistry(name, version string) *contract.Registry {
	r := contract.New(name, version)

	r.RegisterCommand("session.new", "session new --cdp-origin <url> [--session-id <id>]", "create or pin a managed session")
	r.RegisterCommand("session.fresh", "session fresh --cdp-origin <url>", "create an always-ephemeral, auto-named session")
	r.RegisterCommand("session.attach", "session attach --cdp-origin <url> [--session-id <id>]", "observe an externally-owned browser")
	r.RegisterCommand("session.clear", "session clear --session-id <id>", "remove a session's persisted record")
	r.RegisterCommand("target.snapshot", "target snapshot --session-id <id>", "list persisted targets for a session")
	r.RegisterCommand("target.wait", "target wait --session-id <id> --target-id <id> [--timeout-ms <ms>]", "block until a target appears")
	r.RegisterCommand("contract", "contract", "report the command/error manifest and its fingerprint")

	r.RegisterBaselineErrors()

	r.RegisterGuarantee("loopback-only transport")
	r.RegisterGuarantee("serial-within-lane ordering")
	r.RegisterGuarantee("queue-overload failures are never silently retried locally")

	return r
}

// Wire registers every verb this repo implements against o, backed by
// store for session/target state and registry for the contract report.
func Wire(o *worker.Orchestrator, store *state.Store, registry *contract.Registry) {
	sessions := NewSessions(store)
	targets := NewTargets(store)
	contractVerb := NewContract(registry)

	o.RegisterVerb("session.new", sessions.New)
	o.RegisterVerb("session.fresh", sessions.Fresh)
	o.RegisterVerb("session.attach", sessions.Attach)
	o.RegisterVerb("session.clear", sessions.Clear)
	o.RegisterVerb("target.snapshot", targets.Snapshot)
	o.RegisterVerb("target.wait", targets.Wait)
	o.RegisterVerb("contract", contractVerb.Report)
}
