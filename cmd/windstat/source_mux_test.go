package main

import (
	"context"
	"testing"
	"time"

	"github.com/tinytelemetry/windstat/internal/model"
)

type fakeSource struct {
	name    string
	lines   chan model.IngestEnvelope
	stopped chan struct{}
}

func newFakeSource(name string, buffer int) *fakeSource {
	return &fakeSource{
		name:    name,
		lines:   make(chan model.IngestEnvelope, buffer),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSource) Lines() <-chan model.IngestEnvelope { return s.lines }
func (s *fakeSource) Name() string                       { return s.name }

func (s *fakeSource) Stop() {
	select {
	case <-s.stopped:
		return
	default:
		close(s.stopped)
		close(s.lines)
	}
}

func drain(t *testing.T, mux *SourceMultiplexer) []model.IngestEnvelope {
	t.Helper()

	var got []model.IngestEnvelope
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-mux.Lines():
			if !ok {
				return got
			}
			got = append(got, env)
		case <-timeout:
			t.Fatalf("timed out draining multiplexer, got %+v", got)
		}
	}
}

func TestSourceMultiplexer_ForwardsFromAllSources(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFakeSource("tcp", 4)
	b := newFakeSource("stdin", 4)

	mux := NewSourceMultiplexer(ctx, []NamedLineSource{a, b}, 16)
	mux.Start()
	defer mux.Stop()

	a.lines <- model.IngestEnvelope{Source: "tcp:1", Line: "a 1"}
	a.lines <- model.IngestEnvelope{Source: "tcp:1", Line: "   "}
	a.lines <- model.IngestEnvelope{Source: "tcp:1", Closed: true}
	b.lines <- model.IngestEnvelope{Source: "stdin", Line: "b 2"}
	a.Stop()
	b.Stop()

	got := map[string]bool{}
	closed := 0
	for _, env := range drain(t, mux) {
		if env.Closed {
			closed++
			continue
		}
		got[env.Line] = true
	}
	if len(got) != 2 || !got["a 1"] || !got["b 2"] {
		t.Fatalf("lines = %+v, want a 1 and b 2 only", got)
	}
	if closed != 1 {
		t.Fatalf("closed envelopes = %d, want 1", closed)
	}

	counts := mux.Forwarded()
	if counts["tcp"] != 1 || counts["stdin"] != 1 {
		t.Fatalf("forwarded = %+v, want one per source", counts)
	}
}

func TestSourceMultiplexer_NoSourcesClosesImmediately(t *testing.T) {
	t.Parallel()

	mux := NewSourceMultiplexer(context.Background(), nil, 0)
	mux.Start()
	if got := drain(t, mux); len(got) != 0 {
		t.Fatalf("got %d lines from empty multiplexer", len(got))
	}
	if mux.HasSources() {
		t.Fatal("HasSources should be false")
	}
}

func TestSourceMultiplexer_StopInvokesSourceStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource("x", 1)
	mux := NewSourceMultiplexer(ctx, []NamedLineSource{src}, 8)
	mux.Start()

	mux.Stop()
	mux.Stop()

	select {
	case <-src.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected source Stop() to be called")
	}
	if names := mux.SourceNames(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("SourceNames = %v", names)
	}
}
