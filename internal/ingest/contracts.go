package ingest

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	// ProcessorModeParse accepts every format, including multi-line JSON.
	ProcessorModeParse = "parse"
	// ProcessorModePlain accepts one complete entry per line.
	ProcessorModePlain = "plain"
)

// EnvelopeProcessor consumes source-tagged ingest lines and records the
// measurements they carry.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
	Stats() (recorded, rejected int64)
}

// ProcessResult holds the outcome of one complete entry.
type ProcessResult struct {
	Source       string
	Measurements []model.Measurement
	Err          error
}

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a processor.
type Option func(*options)

// WithClock sets the clock used to throttle error logs.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewEnvelopeProcessor creates the processor for mode. An empty mode
// selects ProcessorModeParse.
func NewEnvelopeProcessor(mode string, sink model.Recorder, sourceName string, opts ...Option) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewProcessor(sink, sourceName, opts...), nil
	case ProcessorModePlain:
		return NewPlainProcessor(sink, sourceName, opts...), nil
	default:
		return nil, fmt.Errorf("unknown processor mode %q", mode)
	}
}
