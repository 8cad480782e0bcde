package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/windstat/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer fans lines from every source into one channel and
// closes it once all sources are drained or Stop is called.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources   []NamedLineSource
	forwarded []atomic.Int64
	out       chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []NamedLineSource, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:       ctx,
		cancel:    cancel,
		sources:   sources,
		forwarded: make([]atomic.Int64, len(sources)),
		out:       make(chan model.IngestEnvelope, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		for i, src := range m.sources {
			m.wg.Add(1)
			go m.pump(i, src)
		}
		go func() {
			m.wg.Wait()
			m.close()
		}()
	})
}

// Stop stops every source and waits for the pumps to exit.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.close()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

// SourceNames lists the sources in registration order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, len(m.sources))
	for i, src := range m.sources {
		names[i] = src.Name()
	}
	return names
}

// Forwarded returns how many lines each source has delivered, by name.
func (m *SourceMultiplexer) Forwarded() map[string]int64 {
	counts := make(map[string]int64, len(m.sources))
	for i, src := range m.sources {
		counts[src.Name()] += m.forwarded[i].Load()
	}
	return counts
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.out
}

func (m *SourceMultiplexer) pump(idx int, src NamedLineSource) {
	defer m.wg.Done()

	in := src.Lines()
	for {
		var env model.IngestEnvelope
		var ok bool
		select {
		case <-m.ctx.Done():
			return
		case env, ok = <-in:
		}
		if !ok {
			return
		}
		if !env.Closed && strings.TrimSpace(env.Line) == "" {
			continue
		}
		select {
		case m.out <- env:
			if !env.Closed {
				m.forwarded[idx].Add(1)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *SourceMultiplexer) close() {
	m.closeOnce.Do(func() { close(m.out) })
}
