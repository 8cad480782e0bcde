package ingest

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	// maxPendingJSON bounds a multi-line JSON object still being accumulated.
	maxPendingJSON = 1 << 20
	// maxPendingSources bounds how many sources may hold a partial object.
	// The oldest partial object is dropped to admit a new one.
	maxPendingSources = 1024

	errorLogInterval = 10 * time.Second
)

// Processor parses measurement lines, including JSON objects spread over
// several lines, and records them. Multi-line state is kept per source so
// interleaved sources do not corrupt each other.
type Processor struct {
	sink       model.Recorder
	sourceName string
	logger     *slog.Logger
	throttle   *errorThrottle

	mu      sync.Mutex
	pending map[string]*jsonAccumulator
	seq     uint64

	recorded atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewProcessor creates a parsing processor writing to sink.
func NewProcessor(sink model.Recorder, sourceName string, opts ...Option) *Processor {
	o := options{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "ingest")
	return &Processor{
		sink:       sink,
		sourceName: sourceName,
		logger:     logger,
		throttle:   newErrorThrottle(o.clock, logger, errorLogInterval),
		pending:    make(map[string]*jsonAccumulator),
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Source: p.sourceName, Line: line})
}

// ProcessEnvelope processes one source-tagged line. It returns nil while a
// multi-line JSON object is still being accumulated.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	if env.Closed {
		p.Forget(source)
		return nil
	}

	complete, ok := p.accumulate(source, env.Line)
	if !ok {
		return nil
	}
	return p.record(source, complete)
}

// accumulate returns the complete entry once one is available.
func (p *Processor) accumulate(source, line string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.pending[source]
	if acc == nil {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return "", false
		}
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			return line, true
		}
		if len(p.pending) >= maxPendingSources {
			p.evictOldest()
		}
		p.seq++
		acc = &jsonAccumulator{started: p.seq}
	}

	done := acc.add(line)
	if done || acc.buf.Len() > maxPendingJSON {
		delete(p.pending, source)
		return strings.TrimSpace(acc.buf.String()), true
	}
	p.pending[source] = acc
	return "", false
}

// Forget discards any partial object held for source.
func (p *Processor) Forget(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[source]; ok {
		delete(p.pending, source)
		p.dropped.Add(1)
	}
}

// Pending returns how many sources currently hold a partial object.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Dropped returns how many partial objects were discarded unfinished.
func (p *Processor) Dropped() int64 { return p.dropped.Load() }

// evictOldest must be called with mu held.
func (p *Processor) evictOldest() {
	var (
		oldest string
		first  uint64
		found  bool
	)
	for source, acc := range p.pending {
		if !found || acc.started < first {
			oldest, first, found = source, acc.started, true
		}
	}
	delete(p.pending, oldest)
	p.dropped.Add(1)
	p.logger.Debug("dropping partial object", "source", oldest, "pending_sources", maxPendingSources)
}

func (p *Processor) record(source, entry string) *ProcessResult {
	ms, err := ParseLine(entry)
	result := &ProcessResult{Source: source, Measurements: ms, Err: err}
	if err != nil {
		p.rejected.Add(1)
		p.throttle.report(source, err)
		return result
	}
	for _, m := range ms {
		if rerr := p.sink.Record(m.Name, m.Value); rerr != nil {
			p.rejected.Add(1)
			p.throttle.report(source, rerr)
			result.Err = rerr
			continue
		}
		p.recorded.Add(1)
	}
	return result
}

// Stats returns the number of recorded and rejected measurements.
func (p *Processor) Stats() (recorded, rejected int64) {
	return p.recorded.Load(), p.rejected.Load()
}

type jsonAccumulator struct {
	buf     strings.Builder
	depth   int
	started uint64
}

// add appends line and reports whether the object is complete.
func (a *jsonAccumulator) add(line string) bool {
	a.buf.WriteString(line)
	a.buf.WriteString("\n")
	a.depth += CountJSONDepth(line)
	return a.depth <= 0
}

// errorThrottle logs the first error and then at most one summary per
// interval, counting what it suppressed.
type errorThrottle struct {
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration

	mu         sync.Mutex
	last       time.Time
	suppressed int
}

func newErrorThrottle(c clock.Clock, logger *slog.Logger, interval time.Duration) *errorThrottle {
	return &errorThrottle{clock: c, logger: logger, interval: interval}
}

func (t *errorThrottle) report(source string, err error) {
	t.mu.Lock()
	now := t.clock.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.suppressed++
		t.mu.Unlock()
		return
	}
	suppressed := t.suppressed
	t.suppressed = 0
	t.last = now
	t.mu.Unlock()

	t.logger.Warn("rejected measurement", "source", source, "error", err, "suppressed", suppressed)
}
