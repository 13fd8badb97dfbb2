package daemontransport

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfwright/internal/types"
)

func startTestServer(t *testing.T, token string, handler Handler) (*Server, int) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Hour
	s := New(cfg, token, handler)
	port, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, port
}

func sendRaw(t *testing.T, port int, line string) types.ResponseFrame {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var resp types.ResponseFrame
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	return resp
}

func TestServerRejectsMissingToken(t *testing.T) {
	_, port := startTestServer(t, "secret", func(ctx context.Context, req types.RequestFrame) types.ResponseFrame {
		return types.ResponseFrame{Stdout: "should not run"}
	})

	req, _ := json.Marshal(types.RequestFrame{Kind: "ping"})
	resp := sendRaw(t, port, string(req))
	assert.NotEqual(t, 0, resp.ExitCode)
	assert.Contains(t, resp.Stderr, types.ErrDaemonAuthFailed)
}

func TestServerDispatchesAuthenticatedRequest(t *testing.T) {
	_, port := startTestServer(t, "secret", func(ctx context.Context, req types.RequestFrame) types.ResponseFrame {
		return types.ResponseFrame{Stdout: "hello " + req.Kind, ExitCode: 0}
	})

	req, _ := json.Marshal(types.RequestFrame{Token: "secret", Kind: "ping"})
	resp := sendRaw(t, port, string(req))
	assert.Equal(t, "hello ping", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
}

func TestServerRejectsOversizedFrame(t *testing.T) {
	_, port := startTestServer(t, "secret", func(ctx context.Context, req types.RequestFrame) types.ResponseFrame {
		return types.ResponseFrame{Stdout: "should not run"}
	})

	huge := make([]byte, types.MaxFrameBytes+1024)
	for i := range huge {
		huge[i] = 'a'
	}
	line, _ := json.Marshal(types.RequestFrame{Token: "secret", Kind: "ping", Argv: []string{string(huge)}})
	resp := sendRaw(t, port, string(line))
	assert.Contains(t, resp.Stderr, types.ErrDaemonFrameTooLarge)
}

func TestClientUnreachableWithNoSpawner(t *testing.T) {
	c := NewClient(DefaultClientConfig(), t.TempDir(), nil)
	_, err := c.RunViaDaemon(context.Background(), types.RequestFrame{Kind: "ping"})
	require.Error(t, err)
	assert.Equal(t, types.ErrDaemonUnreachable, types.AsCoreError(err).Code)
}

func TestClientDisabledNeverDials(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Disabled = true
	c := NewClient(cfg, t.TempDir(), func(ctx context.Context, stateRoot string) error {
		t.Fatal("spawn must not be called when transport is disabled")
		return nil
	})
	_, err := c.RunViaDaemon(context.Background(), types.RequestFrame{Kind: "ping"})
	require.Error(t, err)
	assert.Equal(t, types.ErrDaemonUnreachable, types.AsCoreError(err).Code)
}
