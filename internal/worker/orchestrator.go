// Package worker implements the Worker Orchestrator (C6): request
// classification, the daemon-bypass policy, and — for everything that
// does transit the daemon — lane enqueue, runtime lease acquisition,
// bounded output capture, and outcome mapping back to the caller.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"surfwright/internal/diagnostics"
	"surfwright/internal/lane"
	"surfwright/internal/runtimepool"
	"surfwright/internal/types"
)

// RequestClass is the C6 classification of an incoming request.
type RequestClass string

const (
	ClassRunVerb        RequestClass = "run-verb"
	ClassControlOp      RequestClass = "control-op"
	ClassWorkerInternal RequestClass = "worker-internal"
)

// controlOps is the set of request kinds that manage daemon/session state
// rather than drive a browser (e.g. "session.new", "contract").
var controlOps = map[string]bool{
	"session.new":    true,
	"session.fresh":  true,
	"session.attach": true,
	"session.clear":  true,
	"contract":       true,
}

// workerInternalKinds are entrypoints meant only for a sub-process the
// daemon itself spawns (e.g. a network tailer), never for ordinary verbs.
var workerInternalKinds = map[string]bool{
	"internal.network-tail": true,
}

// Classify buckets a request kind into its C6 class. Anything not a
// known control-op or worker-internal kind is treated as a run-verb.
func Classify(kind string) RequestClass {
	if workerInternalKinds[kind] {
		return ClassWorkerInternal
	}
	if controlOps[kind] {
		return ClassControlOp
	}
	return ClassRunVerb
}

// streamingKinds are tail-style verbs that write NDJSON straight to
// stdout as events occur; they cannot be proxied through a single
// request/response frame, so they always bypass the daemon.
var streamingKinds = map[string]bool{
	"network.tail": true,
	"target.watch": true,
}

// BypassInputs carries the caller-side facts the bypass decision needs.
// All of it is known to the ingress process before it would otherwise
// dial the daemon.
type BypassInputs struct {
	Kind        string
	StdinIsPlan bool // the request body is a plan piped in over stdin
	CWDRelative bool // the verb reads paths relative to the caller's CWD
}

// ShouldBypass reports whether in should run locally without transiting
// the daemon, and why. Per spec §4.6 this is a pure decision — it never
// contacts the daemon to make it.
func ShouldBypass(in BypassInputs) (bool, string) {
	if Classify(in.Kind) == ClassWorkerInternal {
		return true, "worker-internal entrypoint"
	}
	if streamingKinds[in.Kind] {
		return true, "streaming verb"
	}
	if in.StdinIsPlan {
		return true, "plan fed through stdin"
	}
	if in.CWDRelative {
		return true, "diagnostic verb reads CWD-relative paths"
	}
	return false, ""
}

// Verb is one run-verb or control-op's core logic. It writes to out/errOut
// through the bounded-capture buffers the orchestrator gives it and
// returns the process-style exit code plus any typed error.
type Verb func(ctx context.Context, lease *runtimepool.Lease, req types.RequestFrame, out, errOut *CapturedOutput) (exitCode int, err error)

// Config holds the Lean v1 output-capture caps.
type Config struct {
	StdoutCapBytes int
	StderrCapBytes int
}

// DefaultConfig caps each stream at 256 KiB, comfortably above any
// ordinary verb's output while bounding worst-case memory per request.
func DefaultConfig() Config {
	return Config{StdoutCapBytes: 256 << 10, StderrCapBytes: 256 << 10}
}

// RuntimeLeaser is the slice of runtimepool.Pool the orchestrator needs.
// Narrowing to an interface lets tests exercise dispatch/capture/outcome
// logic with a fake leaser instead of a real chromedp-backed pool.
type RuntimeLeaser interface {
	Acquire(ctx context.Context, sessionID, cdpOrigin string, timeout time.Duration) (*runtimepool.Lease, error)
}

// Orchestrator is the daemon-side half of C6: it owns the lane scheduler
// and runtime pool and turns one request frame into one response frame.
type Orchestrator struct {
	cfg       Config
	scheduler *lane.Scheduler
	pool      RuntimeLeaser
	metrics   *diagnostics.Collector
	sink      *diagnostics.Sink
	verbs     map[string]Verb
}

// New builds an Orchestrator wired to the given lane scheduler and
// runtime pool. RegisterVerb must be called for every kind before it can
// be dispatched; an unregistered kind fails with E_INTERNAL.
func New(cfg Config, scheduler *lane.Scheduler, pool RuntimeLeaser, metrics *diagnostics.Collector, sink *diagnostics.Sink) *Orchestrator {
	if cfg.StdoutCapBytes <= 0 {
		cfg.StdoutCapBytes = 256 << 10
	}
	if cfg.StderrCapBytes <= 0 {
		cfg.StderrCapBytes = 256 << 10
	}
	return &Orchestrator{cfg: cfg, scheduler: scheduler, pool: pool, metrics: metrics, sink: sink, verbs: make(map[string]Verb)}
}

// RegisterVerb binds a verb's core logic to a request kind.
func (o *Orchestrator) RegisterVerb(kind string, v Verb) {
	o.verbs[kind] = v
}

// sessionAuthority resolves the request's lane/pool key precedence:
// explicit sessionId in the payload, else cdpOrigin, else control-default.
// Run-verbs carry these in Payload; the transport itself never parses them.
type sessionAuthority struct {
	SessionID string `json:"sessionId"`
	CDPOrigin string `json:"cdpOrigin"`
}

// Dispatch is the daemon's single entrypoint for a parsed request frame:
// classify, enqueue on its lane, acquire a runtime lease on dispatch, run
// the verb with bounded capture, and map the outcome per spec §4.6.
func (o *Orchestrator) Dispatch(ctx context.Context, req types.RequestFrame) types.ResponseFrame {
	v, ok := o.verbs[req.Kind]
	if !ok {
		return errorFrame(types.NewError(types.ErrInternal, false, "no verb registered for kind %q", req.Kind))
	}

	authority := parseAuthority(req)
	laneKey := types.LaneKey(authority.SessionID, authority.CDPOrigin)

	needsLease := Classify(req.Kind) == ClassRunVerb

	run := func(runCtx context.Context) (any, error) {
		out := newCapturedOutput(o.cfg.StdoutCapBytes)
		errOut := newCapturedOutput(o.cfg.StderrCapBytes)

		var lease *runtimepool.Lease
		if needsLease {
			acquired, err := o.pool.Acquire(runCtx, authority.SessionID, authority.CDPOrigin, 20*time.Second)
			if err != nil {
				return nil, err
			}
			defer acquired.Release()
			lease = acquired
		}

		exitCode, verbErr := v(runCtx, lease, req, out, errOut)
		resp := types.ResponseFrame{Stdout: out.String(), Stderr: errOut.String(), ExitCode: exitCode}
		if verbErr != nil {
			resp = mergeErrorIntoFrame(resp, verbErr)
		}
		return resp, nil
	}

	respCh := make(chan types.ResponseFrame, 1)
	work := types.NewQueuedWork(ctx, laneKey, 2*time.Second, run)
	work.Complete = func(result any, err error) {
		if err != nil {
			respCh <- errorFrame(err)
			return
		}
		resp, _ := result.(types.ResponseFrame)
		respCh <- resp
	}

	if err := o.scheduler.Enqueue(work); err != nil {
		o.emit(diagnostics.EventQueueReject, map[string]any{"kind": req.Kind, "laneKey": laneKey, "code": types.AsCoreError(err).Code})
		return errorFrame(err)
	}

	o.emit(diagnostics.EventDispatch, map[string]any{"kind": req.Kind, "laneKey": laneKey})
	return <-respCh
}

// parseAuthority extracts the session authority from the payload. A
// malformed or absent payload just leaves a zero-value authority, which
// types.LaneKey resolves to the control-default lane.
func parseAuthority(req types.RequestFrame) sessionAuthority {
	var a sessionAuthority
	if len(req.Payload) == 0 {
		return a
	}
	_ = json.Unmarshal(req.Payload, &a)
	return a
}

func (o *Orchestrator) emit(kind diagnostics.EventKind, fields map[string]any) {
	if o.sink != nil {
		o.sink.Emit(kind, fields)
	}
}

func errorFrame(err error) types.ResponseFrame {
	ce := types.AsCoreError(err)
	return types.ResponseFrame{Stderr: ce.Error(), ExitCode: 1}
}

// mergeErrorIntoFrame folds a verb-level typed error into a frame that
// may already carry partial captured output, preserving both.
func mergeErrorIntoFrame(resp types.ResponseFrame, err error) types.ResponseFrame {
	ce := types.AsCoreError(err)
	if resp.Stderr != "" {
		resp.Stderr += "\n"
	}
	resp.Stderr += ce.Error()
	if resp.ExitCode == 0 {
		resp.ExitCode = 1
	}
	return resp
}

