package logsource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/tinytelemetry/windstat/internal/lineio"
	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	// DefaultReaderBuffer is the channel capacity of a ReaderSource.
	DefaultReaderBuffer = 50_000

	// DefaultMaxLineSize caps one line in bytes. Longer lines are skipped.
	DefaultMaxLineSize = 1024 * 1024
)

// ReaderConfig tunes a ReaderSource. Zero values take the defaults.
type ReaderConfig struct {
	BufferSize  int
	MaxLineSize int
	Logger      *slog.Logger
}

// ReaderSource emits the non-empty lines of an io.Reader until EOF or Stop.
type ReaderSource struct {
	name    string
	ch      chan model.IngestEnvelope
	cancel  context.CancelFunc
	logger  *slog.Logger
	skipped atomic.Int64
}

// NewStdinSource reads measurement lines piped to the process.
func NewStdinSource(ctx context.Context, cfg ReaderConfig) *ReaderSource {
	return NewReaderSource(ctx, "stdin", os.Stdin, cfg)
}

// NewReaderSource starts reading r in the background. name becomes the
// Source of every envelope.
func NewReaderSource(ctx context.Context, name string, r io.Reader, cfg ReaderConfig) *ReaderSource {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultReaderBuffer
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, cfg.BufferSize),
		cancel: cancel,
		logger: cfg.Logger.With("component", "logsource", "source", name),
	}
	lines := make(chan string)
	go s.scan(ctx, r, cfg.MaxLineSize, lines)
	go s.forward(ctx, lines)
	return s
}

// scan owns the blocking reads. It can outlive Stop until r returns,
// which for a terminal or pipe may be never.
func (s *ReaderSource) scan(ctx context.Context, r io.Reader, maxLine int, out chan<- string) {
	defer close(out)

	lr := lineio.NewReader(r, maxLine)
	for {
		line, skipped, err := lr.Next()
		if skipped {
			s.skipped.Add(1)
			s.logger.Warn("skipping oversized line", "max_bytes", maxLine)
		} else if len(line) > 0 {
			select {
			case out <- string(line):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
	}
}

func (s *ReaderSource) forward(ctx context.Context, lines <-chan string) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Skipped returns how many oversized lines were dropped.
func (s *ReaderSource) Skipped() int64 { return s.skipped.Load() }

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Stop()                              { s.cancel() }
func (s *ReaderSource) Name() string                       { return s.name }
