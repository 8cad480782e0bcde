// Package httpserver exposes metric snapshots and ingestion over HTTP.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/stats"
)

const maxHistoryLimit = 10_000

// MetricStore is the narrow registry contract required by the HTTP API.
type MetricStore interface {
	model.SnapshotReader
	model.Recorder
	Len() int
}

// Server provides an HTTP API for reading and recording metrics.
type Server struct {
	addr      string
	metrics   MetricStore
	history   model.HistoryReader
	logger    *slog.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. history may be nil when
// snapshot history is disabled.
func NewServer(addr string, metrics MetricStore, history model.HistoryReader, logger *slog.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		metrics:   metrics,
		history:   history,
		logger:    logger.With("component", "httpserver"),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/metrics", s.handleListMetrics)
	api.GET("/metrics/:name", s.handleSnapshot)
	api.POST("/metrics/:name", s.handleRecord)
	api.GET("/metrics/:name/history", s.handleHistory)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startTime = time.Now()
	s.logger.Info("listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the active listen address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime":          time.Since(s.startTime).String(),
		"metric_count":    s.metrics.Len(),
		"history_enabled": s.history != nil,
	})
}

func (s *Server) handleListMetrics(c *gin.Context) {
	names, err := s.metrics.ListMetrics()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": names, "count": len(names)})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, err := s.metrics.MetricSnapshot(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRecord(c *gin.Context) {
	var req struct {
		Value  *int64  `json:"value"`
		Values []int64 `json:"values"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	values := req.Values
	if req.Value != nil {
		values = append(values, *req.Value)
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body needs value or values"})
		return
	}

	name := c.Param("name")
	for _, v := range values {
		if err := s.metrics.Record(name, v); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"metric": name, "recorded": len(values)})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	limit := model.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit)})
			return
		}
		limit = n
	}

	name := c.Param("name")
	points, err := s.history.History(name, c.Query("window"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric": name, "points": points})
}

// fail maps registry errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, stats.ErrUnknownMetric):
		status = http.StatusNotFound
	case errors.Is(err, stats.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, stats.ErrTooManyMetrics):
		status = http.StatusTooManyRequests
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
