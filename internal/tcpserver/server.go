// Package tcpserver accepts newline-delimited measurement lines over TCP.
package tcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/tinytelemetry/windstat/internal/lineio"
	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "127.0.0.1:4000"

	// DefaultLineChannelSize is the capacity of the Lines channel.
	DefaultLineChannelSize = 100_000

	// DefaultMaxLineSize caps one line in bytes. Longer lines are skipped
	// and the connection stays open.
	DefaultMaxLineSize = 64 * 1024

	// DefaultMaxConns bounds concurrent client connections.
	DefaultMaxConns = 1024
)

// ServerConfig tunes a Server. Zero values take the defaults; a zero
// IdleTimeout never times out.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	MaxConns        int
	IdleTimeout     time.Duration
	Logger          *slog.Logger
}

// Stats counts connection and line activity since Start.
type Stats struct {
	Accepted int64
	Refused  int64
	Active   int64
	Lines    int64
	Skipped  int64
}

// Server fans lines from every client into one channel. Envelopes carry
// "tcp:<remote addr>" as their source so multi-line JSON from different
// clients is assembled separately.
type Server struct {
	addr     string
	cfg      ServerConfig
	listener net.Listener
	lines    chan model.IngestEnvelope
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	handlers conc.WaitGroup
	accept   sync.WaitGroup
	stopOnce sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	accepted atomic.Int64
	refused  atomic.Int64
	received atomic.Int64
	skipped  atomic.Int64
}

// NewServer creates a server for addr, or DefaultAddr when addr is empty.
func NewServer(addr string, cfg ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if cfg.LineChannelSize <= 0 {
		cfg.LineChannelSize = DefaultLineChannelSize
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		cfg:    cfg,
		lines:  make(chan model.IngestEnvelope, cfg.LineChannelSize),
		logger: cfg.Logger.With("component", "tcpserver"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	s.accept.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.accept.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.admit(conn) {
			continue
		}
		s.handlers.Go(func() { s.serve(conn) })
	}
}

// admit registers conn, or closes it when stopping or at the limit.
func (s *Server) admit(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	if len(s.conns) >= s.cfg.MaxConns {
		s.refused.Add(1)
		s.logger.Warn("refusing connection, limit reached", "remote", conn.RemoteAddr().String(), "max_conns", s.cfg.MaxConns)
		_ = conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.accepted.Add(1)
	return true
}

func (s *Server) release(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serve(conn net.Conn) {
	defer s.release(conn)

	remote := conn.RemoteAddr().String()
	source := "tcp:" + remote
	lr := lineio.NewReader(conn, s.cfg.MaxLineSize)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		line, skipped, err := lr.Next()
		switch {
		case skipped:
			s.skipped.Add(1)
			s.logger.Warn("skipping oversized line", "remote", remote, "max_bytes", s.cfg.MaxLineSize)
		case len(line) > 0:
			select {
			case s.lines <- model.IngestEnvelope{Source: source, Line: string(line)}:
				s.received.Add(1)
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			s.logClose(remote, err)
			s.announceClose(source)
			return
		}
	}
}

// announceClose tells consumers that source will send nothing more, so any
// partial state kept for it can be released.
func (s *Server) announceClose(source string) {
	select {
	case s.lines <- model.IngestEnvelope{Source: source, Closed: true}:
	case <-s.ctx.Done():
	}
}

func (s *Server) logClose(remote string, err error) {
	switch {
	case s.ctx.Err() != nil, errors.Is(err, net.ErrClosed):
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Debug("closing idle connection", "remote", remote, "idle", s.cfg.IdleTimeout)
	case errors.Is(err, io.EOF):
		s.logger.Debug("client disconnected", "remote", remote)
	default:
		s.logger.Warn("read failed", "remote", remote, "error", err)
	}
}

// Stop closes the listener and every client, waits for the handlers, then
// closes Lines. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.accept.Wait()
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.handlers.Wait()
		close(s.lines)
	})
	return nil
}

// Lines returns received lines. It is closed by Stop.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lines
}

// Stats returns a point-in-time copy of the counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	active := int64(len(s.conns))
	s.mu.Unlock()
	return Stats{
		Accepted: s.accepted.Load(),
		Refused:  s.refused.Load(),
		Active:   active,
		Lines:    s.received.Load(),
		Skipped:  s.skipped.Load(),
	}
}

// Addr returns the bound address after Start and the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
