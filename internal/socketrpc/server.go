package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	scannerInitBufSize  = 64 * 1024
	scannerMaxTokenSize = 1024 * 1024

	staleProbeTimeout = 500 * time.Millisecond
)

// ErrHistoryDisabled is returned by History when no history store is wired.
var ErrHistoryDisabled = errors.New("history is disabled")

type handlerFunc func(params json.RawMessage) (any, *RPCError)

// Server answers ReadAPI calls from local clients such as the dashboard.
type Server struct {
	socketPath string
	metrics    model.SnapshotReader
	history    model.HistoryReader
	logger     *slog.Logger
	methods    map[string]handlerFunc

	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	accept   sync.WaitGroup
	handlers conc.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	served atomic.Int64
	failed atomic.Int64
}

// NewServer creates a server for socketPath. history may be nil, in which
// case History calls fail with ErrHistoryDisabled.
func NewServer(socketPath string, metrics model.SnapshotReader, history model.HistoryReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		socketPath: socketPath,
		metrics:    metrics,
		history:    history,
		logger:     logger.With("component", "socketrpc"),
		quit:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
	s.methods = map[string]handlerFunc{
		MethodListMetrics:    s.listMetrics,
		MethodMetricSnapshot: s.metricSnapshot,
		MethodHistory:        s.historyPoints,
	}
	return s
}

// Start removes a stale socket file left by a crashed process, then
// listens. It fails if another server is answering on the path.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}
	if err := s.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.accept.Add(1)
	go s.acceptLoop()

	s.logger.Info("listening", "path", s.socketPath)
	return nil
}

func (s *Server) clearStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, staleProbeTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
	}
	s.logger.Debug("removing stale socket", "path", s.socketPath)
	return os.Remove(s.socketPath)
}

// Stop closes the listener and every client, waits for handlers, and
// removes the socket file. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
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
		_ = os.Remove(s.socketPath)
		s.logger.Debug("stopped", "requests", s.served.Load(), "errors", s.failed.Load())
	})
}

// Served returns how many requests were answered and how many of those
// carried an error.
func (s *Server) Served() (total, failed int64) {
	return s.served.Load(), s.failed.Load()
}

func (s *Server) acceptLoop() {
	defer s.accept.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.handlers.Go(func() { s.serve(conn) })
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serve(conn net.Conn) {
	defer s.untrack(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var resp Response
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp = Response{JSONRPC: jsonrpcVersion, Error: &RPCError{Code: codeParseError, Message: "parse error"}}
		} else {
			resp = s.dispatch(req)
		}
		s.served.Add(1)
		if resp.Error != nil {
			s.failed.Add(1)
		}
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: jsonrpcVersion, ID: req.ID}

	handler, ok := s.methods[req.Method]
	if !ok {
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: codeInternalError, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func (s *Server) listMetrics(json.RawMessage) (any, *RPCError) {
	return appResult(s.metrics.ListMetrics())
}

func (s *Server) metricSnapshot(raw json.RawMessage) (any, *RPCError) {
	var p snapshotParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Name == "" {
		return nil, invalidParams(errors.New("name is required"))
	}
	return appResult(s.metrics.MetricSnapshot(p.Name))
}

func (s *Server) historyPoints(raw json.RawMessage) (any, *RPCError) {
	var p historyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.Name == "" {
		return nil, invalidParams(errors.New("name is required"))
	}
	if p.Limit <= 0 {
		p.Limit = model.DefaultHistoryLimit
	}
	if s.history == nil {
		return nil, &RPCError{Code: codeAppError, Message: ErrHistoryDisabled.Error()}
	}
	return appResult(s.history.History(p.Name, p.Window, p.Limit))
}

func appResult[T any](v T, err error) (any, *RPCError) {
	if err != nil {
		return nil, &RPCError{Code: codeAppError, Message: err.Error()}
	}
	return v, nil
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
}

// decodeParams treats absent params as an empty object.
func decodeParams(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
