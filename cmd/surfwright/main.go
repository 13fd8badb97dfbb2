// Command surfwright is the agent-facing ingress CLI: it resolves one
// verb invocation into a request frame, decides whether to bypass the
// daemon, and either dials it (spawning one if necessary) or falls back
// to an in-process local orchestrator, always printing the same envelope
// shape on stdout (spec §6).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"surfwright/internal/config"
	"surfwright/internal/daemontransport"
	"surfwright/internal/diagnostics"
	"surfwright/internal/lane"
	"surfwright/internal/runtimepool"
	"surfwright/internal/state"
	"surfwright/internal/types"
	"surfwright/internal/verbs"
	"surfwright/internal/worker"
)

const productVersion = "0.1.0"

func main() {
	var (
		agentID     = flag.String("agent-id", "", "agent scope id")
		workspace   = flag.String("workspace", "", "workspace root directory")
		sessionID   = flag.String("session", "", "session id for this invocation")
		cdpOrigin   = flag.String("cdp-origin", "", "CDP websocket origin")
		targetID    = flag.String("target-id", "", "target id")
		timeoutMs   = flag.Int64("timeout-ms", 0, "operation timeout in milliseconds")
		noJSON      = flag.Bool("no-json", false, "print only the result's plain value, not the envelope")
		pretty      = flag.Bool("pretty", false, "pretty-print the JSON envelope")
		outputShape = flag.String("output-shape", "compact", "compact|proof")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: surfwright <noun> <verb> [flags]")
		os.Exit(1)
	}

	kind, err := resolveKind(args)
	if err != nil {
		printEnvelope(envelopeFailure(types.ErrInternal, err.Error()), *pretty, *noJSON)
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]any{
		"sessionId": *sessionID,
		"cdpOrigin": *cdpOrigin,
		"targetId":  *targetID,
		"timeoutMs": *timeoutMs,
	})

	cfg, err := config.Load("")
	if err != nil {
		printEnvelope(envelopeFailure(types.ErrInternal, err.Error()), *pretty, *noJSON)
		os.Exit(1)
	}
	if *agentID != "" {
		cfg.AgentID = *agentID
	}
	if *workspace != "" {
		cfg.WorkspaceDir = *workspace
	}

	stateRoot, err := cfg.StateRoot()
	if err != nil {
		printEnvelope(envelopeFailure(types.ErrInternal, err.Error()), *pretty, *noJSON)
		os.Exit(1)
	}

	req := types.RequestFrame{Kind: kind, Payload: payload}
	bypass, _ := worker.ShouldBypass(worker.BypassInputs{Kind: kind})

	var resp types.ResponseFrame
	if bypass || !cfg.Daemon.Enabled {
		resp = runLocally(stateRoot, req)
	} else {
		client := daemontransport.NewClient(daemontransport.DefaultClientConfig(), stateRoot, daemontransport.DefaultSpawner(selfPath()))
		resp, err = client.RunViaDaemon(context.Background(), req)
		if err != nil {
			// Daemon-unreachable class errors fall back to local execution;
			// anything else (auth, frame-too-large) is a genuine failure.
			ce := types.AsCoreError(err)
			if ce.Code == types.ErrDaemonUnreachable {
				resp = runLocally(stateRoot, req)
			} else {
				resp = types.ResponseFrame{Stderr: ce.Error(), ExitCode: 1}
			}
		}
	}

	env := toEnvelope(resp)
	printEnvelope(env, *pretty, *noJSON)
	_ = outputShape // "proof" output-shape carries richer diagnostics, left to the daemon-side diagnostics sink
	os.Exit(resp.ExitCode)
}

// resolveKind maps the CLI's "<noun> <verb>" positional arguments onto a
// request kind, or "contract" for the single-word form.
func resolveKind(args []string) (string, error) {
	if len(args) == 1 && args[0] == "contract" {
		return "contract", nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("expected '<noun> <verb>', got %q", strings.Join(args, " "))
	}
	kind := args[0] + "." + args[1]
	switch kind {
	case "session.new", "session.fresh", "session.attach", "session.clear", "target.snapshot", "target.wait":
		return kind, nil
	default:
		return "", fmt.Errorf("unknown command %q", kind)
	}
}

// runLocally builds an ephemeral in-process orchestrator, with its own
// lane scheduler and runtime pool, bound to the same state root and
// dispatches req through it — the local-fallback path
// spec §4.6 requires when the daemon is unreachable or disabled.
func runLocally(stateRoot string, req types.RequestFrame) types.ResponseFrame {
	store, err := state.Open(stateRoot)
	if err != nil {
		return types.ResponseFrame{Stderr: types.AsCoreError(err).Error(), ExitCode: 1}
	}

	pool := runtimepool.New(runtimepool.DefaultConfig(), nil, nil)
	scheduler := lane.New(lane.DefaultConfig(), nil)
	orchestrator := worker.New(worker.DefaultConfig(), scheduler, pool, diagnostics.NewCollector(nil), nil)

	registry := verbs.BuildContractRegistry("surfwright", productVersion)
	verbs.Wire(orchestrator, store, registry)

	return orchestrator.Dispatch(context.Background(), req)
}

// toEnvelope folds a ResponseFrame into the { ok, ... } shape §6 mandates.
// A successful verb's stdout is already a JSON object; its fields are
// merged alongside "ok":true rather than nested under a wrapper key.
func toEnvelope(resp types.ResponseFrame) map[string]any {
	if resp.ExitCode == 0 {
		env := map[string]any{"ok": true}
		if resp.Stdout != "" {
			var body map[string]any
			if err := json.Unmarshal([]byte(resp.Stdout), &body); err == nil {
				for k, v := range body {
					env[k] = v
				}
			}
		}
		return env
	}

	code, message := splitTypedError(resp.Stderr)
	return envelopeFailure(code, message)
}

func envelopeFailure(code, message string) map[string]any {
	return map[string]any{"ok": false, "code": code, "message": message}
}

// splitTypedError recovers the "CODE: message" shape CoreError.Error()
// produces. An unrecognized shape is reported whole under E_INTERNAL.
func splitTypedError(s string) (code, message string) {
	if idx := strings.Index(s, ": "); idx > 0 && strings.HasPrefix(s, "E_") {
		return s[:idx], s[idx+2:]
	}
	return types.ErrInternal, s
}

func printEnvelope(env map[string]any, pretty, noJSON bool) {
	if noJSON {
		for _, v := range env {
			fmt.Fprintln(os.Stdout, v)
		}
		return
	}
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(env, "", "  ")
	} else {
		data, err = json.Marshal(env)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

// selfPath resolves the daemon binary surfwright spawns on first use. The
// daemon is expected to be installed alongside this binary as
// "surfwrightd".
func selfPath() string {
	dir, err := os.Executable()
	if err != nil {
		return "surfwrightd"
	}
	return strings.TrimSuffix(dir, "surfwright") + "surfwrightd"
}
