package ingest

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/tinytelemetry/windstat/internal/model"
)

// PlainProcessor treats every line as one complete entry. It skips the
// multi-line JSON accumulation, so it keeps no per-source state; single-line
// JSON is still accepted.
type PlainProcessor struct {
	mu         sync.RWMutex
	sink       model.Recorder
	sourceName string
	throttle   *errorThrottle

	recorded atomic.Int64
	rejected atomic.Int64
}

// NewPlainProcessor creates a plain processor.
func NewPlainProcessor(sink model.Recorder, sourceName string, opts ...Option) *PlainProcessor {
	o := options{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &PlainProcessor{
		sink:       sink,
		sourceName: sourceName,
		throttle:   newErrorThrottle(o.clock, o.logger.With("component", "ingest"), errorLogInterval),
	}
}

func (p *PlainProcessor) Name() string { return ProcessorModePlain }

// ProcessLine processes an untagged line using the processor source name.
func (p *PlainProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{
		Source: p.getSourceName(),
		Line:   line,
	})
}

// ProcessEnvelope processes one source-tagged line.
func (p *PlainProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if env.Line == "" {
		return nil
	}

	source := env.Source
	if source == "" {
		source = p.getSourceName()
	}

	ms, err := ParseLine(env.Line)
	result := &ProcessResult{Source: source, Measurements: ms, Err: err}
	if err != nil {
		p.rejected.Add(1)
		p.throttle.report(source, err)
		return result
	}
	for _, m := range ms {
		if err := p.sink.Record(m.Name, m.Value); err != nil {
			p.rejected.Add(1)
			p.throttle.report(source, err)
			result.Err = err
			continue
		}
		p.recorded.Add(1)
	}
	return result
}

// Stats returns the number of recorded and rejected measurements.
func (p *PlainProcessor) Stats() (recorded, rejected int64) {
	return p.recorded.Load(), p.rejected.Load()
}

// SetSourceName updates the default source name for untagged lines.
func (p *PlainProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

func (p *PlainProcessor) getSourceName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceName
}
