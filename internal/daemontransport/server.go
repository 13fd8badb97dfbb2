package daemontransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"surfwright/internal/logging"
	"surfwright/internal/types"
)

// Handler executes one parsed request frame and returns the reply. It is
// supplied by the worker orchestrator (C6); the transport itself knows
// nothing about verbs, lanes, or runtimes.
type Handler func(ctx context.Context, req types.RequestFrame) types.ResponseFrame

// Config shapes the loopback listener.
type Config struct {
	IdleTimeout    time.Duration
	AcceptRatePerS float64
	AcceptBurst    int
}

// DefaultConfig returns the Lean v1 transport defaults: a 10 minute idle
// timeout and a generous local accept-flood guard.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    10 * time.Minute,
		AcceptRatePerS: 50,
		AcceptBurst:    100,
	}
}

// Server is the daemon's loopback control socket: one NDJSON request per
// connection, one response, then close (spec §4.5).
type Server struct {
	cfg     Config
	token   string
	handler Handler

	mu       sync.Mutex
	lastBusy time.Time
	ln       net.Listener
	closed   bool
}

// New builds a Server bound to token and dispatching accepted requests to
// handler. Listen must be called to actually bind a port.
func New(cfg Config, token string, handler Handler) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.AcceptRatePerS <= 0 {
		cfg.AcceptRatePerS = 50
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = 100
	}
	return &Server{cfg: cfg, token: token, handler: handler, lastBusy: time.Now()}
}

// Listen binds an ephemeral loopback port and returns it without serving.
// Callers use the returned port to populate daemon.json before Serve is
// invoked, so a respawning client can never observe a meta file pointing
// at a port nothing is listening on yet.
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, types.NewError(types.ErrDaemonUnreachable, false, "listen loopback: %v", err)
	}
	s.ln = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until ctx is cancelled or the process has sat
// idle past IdleTimeout. It always returns once the listener stops.
func (s *Server) Serve(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.AcceptRatePerS), s.cfg.AcceptBurst)

	idle := time.NewTicker(s.cfg.IdleTimeout / 4)
	defer idle.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-idle.C:
				s.mu.Lock()
				since := time.Since(s.lastBusy)
				s.mu.Unlock()
				if since >= s.cfg.IdleTimeout {
					logging.Default().Info("daemon transport idle timeout, exiting")
					s.Close()
					return
				}
			}
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return types.NewError(types.ErrDaemonUnreachable, false, "accept: %v", err)
		}
		if !limiter.Allow() {
			conn.Close()
			continue
		}
		s.touch()
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastBusy = time.Now()
	s.mu.Unlock()
}

// handleConn reads exactly one frame, authenticates and dispatches it,
// writes exactly one reply, then closes. Over-cap frames are rejected
// without wedging the listener: the oversized connection is dropped, the
// listener keeps accepting.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.touch()

	conn.SetDeadline(time.Now().Add(30 * time.Second))

	limited := io.LimitReader(conn, types.MaxFrameBytes+1)
	reader := bufio.NewReaderSize(limited, 64*1024)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		s.writeError(conn, types.ErrDaemonUnreachable, "read request frame: "+errString(err))
		return
	}
	if len(line) > types.MaxFrameBytes {
		s.writeError(conn, types.ErrDaemonFrameTooLarge, "request frame exceeds 4MiB cap")
		return
	}

	var req types.RequestFrame
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.writeError(conn, types.ErrDaemonUnreachable, "malformed request frame: "+err.Error())
		return
	}

	if !constantTimeTokenEqual(req.Token, s.token) {
		s.writeError(conn, types.ErrDaemonAuthFailed, "token missing or mismatched")
		return
	}

	resp := s.handler(context.Background(), req)
	s.writeFrame(conn, resp)
}

func (s *Server) writeError(conn net.Conn, code, message string) {
	ce := types.NewError(code, false, "%s", message)
	logging.Default().Warn("daemon transport rejected frame", zap.String("code", code), zap.String("message", ce.Message))
	s.writeFrame(conn, types.ResponseFrame{Stderr: ce.Error(), ExitCode: 1})
}

// writeFrame marshals resp and writes it followed by a single newline,
// capping output at the same 4 MiB both-directions limit.
func (s *Server) writeFrame(conn net.Conn, resp types.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if len(data) > types.MaxFrameBytes {
		data, _ = json.Marshal(types.ResponseFrame{
			Stderr:   types.NewError(types.ErrDaemonFrameTooLarge, false, "response frame exceeds 4MiB cap").Error(),
			ExitCode: 1,
		})
	}
	data = append(data, '\n')
	conn.Write(data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
