package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/windstat/internal/duckdb"
	"github.com/tinytelemetry/windstat/internal/httpserver"
	"github.com/tinytelemetry/windstat/internal/ingest"
	"github.com/tinytelemetry/windstat/internal/logger"
	"github.com/tinytelemetry/windstat/internal/logsource"
	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/report"
	"github.com/tinytelemetry/windstat/internal/socketrpc"
	"github.com/tinytelemetry/windstat/internal/stats"
)

type pipelineStack struct {
	registry  *stats.Registry
	processor ingest.EnvelopeProcessor
	reporter  *report.Reporter
	tcpAddr   string
	apiAddr   string
	sock      string
}

// startPipeline wires the same components runServer does, on ephemeral
// ports and a temporary database.
func startPipeline(t *testing.T) *pipelineStack {
	t.Helper()
	log := logger.Discard()

	registry, err := stats.NewRegistry(stats.DefaultConfig(), stats.WithLogger(log))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	store, err := duckdb.NewStore(filepath.Join(t.TempDir(), "history.duckdb"),
		duckdb.WithLogger(log), duckdb.WithQueryTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	reporter := report.New(registry, store, report.Config{Logger: log})

	api := httpserver.NewServer("127.0.0.1:0", registry, store, log)
	if err := api.Start(); err != nil {
		t.Fatalf("http Start: %v", err)
	}

	sock := filepath.Join(os.TempDir(), fmt.Sprintf("windstat-e2e-%d.sock", time.Now().UnixNano()))
	socket := socketrpc.NewServer(sock, registry, store, log)
	if err := socket.Start(); err != nil {
		t.Fatalf("socket Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src, err := tcpInputPlugin{cfg: InputPluginConfig{TCPEnabled: true, TCPAddr: "127.0.0.1:0", Logger: log}}.Build(ctx)
	if err != nil {
		t.Fatalf("tcp Build: %v", err)
	}
	mux := NewSourceMultiplexer(ctx, []NamedLineSource{src}, 64)
	mux.Start()

	processor, err := ingest.NewEnvelopeProcessor(ingest.ProcessorModeParse, registry, "", ingest.WithLogger(log))
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for env := range mux.Lines() {
			processor.ProcessEnvelope(env)
		}
	}()

	t.Cleanup(func() {
		cancel()
		mux.Stop()
		wg.Wait()
		reporter.Stop()
		socket.Stop()
		_ = api.Stop()
		_ = store.Close()
	})

	return &pipelineStack{
		registry:  registry,
		processor: processor,
		reporter:  reporter,
		tcpAddr:   src.(*logsource.TCPSource).Addr(),
		apiAddr:   api.Addr(),
		sock:      sock,
	}
}

func waitEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("eventually timeout: %s", msg)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func sendTCPLines(t *testing.T, addr string, lines ...string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial tcp %s: %v", addr, err)
	}
	defer conn.Close()
	for _, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestPipeline_TCPToAPIAndHistory(t *testing.T) {
	stack := startPipeline(t)

	sendTCPLines(t, stack.tcpAddr,
		"api.latency 10ms",
		"api.latency:30|ms",
		`{"name": "db.query",`,
		` "value": 2, "unit": "s"}`,
		"not a measurement",
	)

	waitEventually(t, 3*time.Second, func() bool {
		recorded, rejected := stack.processor.Stats()
		return recorded == 3 && rejected == 1
	}, "processor did not record every line")

	var list struct {
		Metrics []string `json:"metrics"`
		Count   int      `json:"count"`
	}
	if code := getJSON(t, "http://"+stack.apiAddr+"/api/metrics", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Count != 2 || list.Metrics[0] != "api.latency" || list.Metrics[1] != "db.query" {
		t.Fatalf("metrics = %+v", list)
	}

	var snap model.MetricSnapshot
	if code := getJSON(t, "http://"+stack.apiAddr+"/api/metrics/api.latency", &snap); code != http.StatusOK {
		t.Fatalf("snapshot status = %d", code)
	}
	w, ok := snap.Window("1m")
	if !ok {
		t.Fatal("snapshot has no 1m window")
	}
	if w.Size != 2 || w.Min != 10_000 || w.Max != 30_000 || w.Mean != 20_000 {
		t.Fatalf("1m window = %+v, want 2 samples of 10ms and 30ms in µs", w)
	}

	dbq, err := stack.registry.MetricSnapshot("db.query")
	if err != nil {
		t.Fatalf("db.query snapshot: %v", err)
	}
	if got, _ := dbq.Window("15s"); got.Max != 2_000_000 {
		t.Fatalf("db.query max = %d, want 2s in µs", got.Max)
	}

	if _, err := stack.reporter.ReportOnce(); err != nil {
		t.Fatalf("ReportOnce: %v", err)
	}

	client, err := socketrpc.Dial(stack.sock)
	if err != nil {
		t.Fatalf("socket Dial: %v", err)
	}
	defer client.Close()

	points, err := client.History("api.latency", "1m", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 1 || points[0].Size != 2 {
		t.Fatalf("history = %+v, want one stored 1m point with 2 samples", points)
	}

	if code := getJSON(t, "http://"+stack.apiAddr+"/api/metrics/missing", nil); code != http.StatusNotFound {
		t.Fatalf("unknown metric status = %d, want 404", code)
	}
}
