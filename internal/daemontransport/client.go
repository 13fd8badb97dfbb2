package daemontransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"time"

	"surfwright/internal/types"
)

// Spawner starts a detached daemon process. DefaultSpawner returns as
// soon as the process has started; Client.respawn then polls daemon.json
// until the daemon is listening or SpawnTimeout elapses.
type Spawner func(ctx context.Context, stateRoot string) error

// ClientConfig controls the ingress-side dial/respawn policy.
type ClientConfig struct {
	DialTimeout   time.Duration
	SpawnTimeout  time.Duration
	SpawnPollStep time.Duration
	Disabled      bool
}

// DefaultClientConfig returns Lean v1 defaults: a 2s dial timeout and up
// to 5s waiting for a freshly spawned daemon to come up.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:   2 * time.Second,
		SpawnTimeout:  5 * time.Second,
		SpawnPollStep: 50 * time.Millisecond,
	}
}

// Client is the ingress-process half of C5: it finds or spawns a daemon,
// dials its loopback socket, and sends exactly one request frame.
type Client struct {
	cfg       ClientConfig
	stateRoot string
	spawn     Spawner
}

// NewClient builds a Client. spawn may be nil, in which case a daemon
// that is not already running is treated as unreachable rather than
// respawned.
func NewClient(cfg ClientConfig, stateRoot string, spawn Spawner) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = 5 * time.Second
	}
	if cfg.SpawnPollStep <= 0 {
		cfg.SpawnPollStep = 50 * time.Millisecond
	}
	return &Client{cfg: cfg, stateRoot: stateRoot, spawn: spawn}
}

// RunViaDaemon sends req to a running (or freshly spawned) daemon and
// returns its reply. Only an E_DAEMON_UNREACHABLE error lets the caller
// fall back to local execution; any other error is a failure of the
// request. RunViaDaemon itself never executes the verb locally.
func (c *Client) RunViaDaemon(ctx context.Context, req types.RequestFrame) (types.ResponseFrame, error) {
	if c.cfg.Disabled {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "daemon transport disabled for this environment")
	}

	meta, found, err := ReadMeta(c.stateRoot)
	if err != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "read daemon meta: %v", err)
	}
	if !found {
		meta, err = c.respawn(ctx)
		if err != nil {
			return types.ResponseFrame{}, err
		}
	}

	req.Token = meta.Token
	resp, err := c.send(ctx, meta, req)
	if err == nil {
		return resp, nil
	}

	// The cached meta may point at a daemon that has since exited. One
	// respawn attempt before giving up, never a retry loop.
	meta, respawnErr := c.respawn(ctx)
	if respawnErr != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "daemon unreachable: %v", err)
	}
	req.Token = meta.Token
	return c.send(ctx, meta, req)
}

func (c *Client) respawn(ctx context.Context) (*types.DaemonMeta, error) {
	if c.spawn == nil {
		return nil, types.NewError(types.ErrDaemonUnreachable, false, "no daemon running and spawning is unavailable")
	}
	if err := c.spawn(ctx, c.stateRoot); err != nil {
		return nil, types.NewError(types.ErrDaemonUnreachable, false, "spawn daemon: %v", err)
	}

	deadline := time.Now().Add(c.cfg.SpawnTimeout)
	for {
		meta, found, err := ReadMeta(c.stateRoot)
		if err == nil && found {
			return meta, nil
		}
		if time.Now().After(deadline) {
			return nil, types.NewError(types.ErrDaemonUnreachable, false, "daemon did not become ready within %s", c.cfg.SpawnTimeout)
		}
		time.Sleep(c.cfg.SpawnPollStep)
	}
}

func (c *Client) send(ctx context.Context, meta *types.DaemonMeta, req types.RequestFrame) (types.ResponseFrame, error) {
	addr := fmt.Sprintf("%s:%d", meta.Host, meta.Port)
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "dial daemon at %s: %v", addr, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrInternal, false, "marshal request frame: %v", err)
	}
	if len(data) > types.MaxFrameBytes {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonFrameTooLarge, false, "request frame exceeds 4MiB cap")
	}
	data = append(data, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(data); err != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "write request frame: %v", err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "read response frame: %v", err)
	}
	if len(line) > types.MaxFrameBytes {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonFrameTooLarge, false, "response frame exceeds 4MiB cap")
	}

	var resp types.ResponseFrame
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return types.ResponseFrame{}, types.NewError(types.ErrDaemonUnreachable, false, "malformed response frame: %v", err)
	}
	return resp, nil
}

// DefaultSpawner launches the daemon binary as a detached background
// process, redirecting its stdio away from the ingress process's own
// terminal so it survives the parent exiting.
func DefaultSpawner(daemonBinary string) Spawner {
	return func(ctx context.Context, stateRoot string) error {
		cmd := exec.Command(daemonBinary, "--state-dir", stateRoot)
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		cmd.SysProcAttr = detachedProcAttr()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start daemon binary %s: %w", daemonBinary, err)
		}
		return cmd.Process.Release()
	}
}
