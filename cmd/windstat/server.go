package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/windstat/internal/duckdb"
	"github.com/tinytelemetry/windstat/internal/httpserver"
	"github.com/tinytelemetry/windstat/internal/ingest"
	"github.com/tinytelemetry/windstat/internal/logger"
	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/otlpreceiver"
	"github.com/tinytelemetry/windstat/internal/report"
	"github.com/tinytelemetry/windstat/internal/socketrpc"
	"github.com/tinytelemetry/windstat/internal/stats"
)

const shutdownDeadline = 10 * time.Second

// runServer records measurements from every enabled input and serves
// window statistics until interrupted.
func runServer(cfg appConfig) error {
	log, cleanupLogger := logger.Configure(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	defer cleanupLogger()

	statsCfg, err := cfg.statsConfig()
	if err != nil {
		return err
	}
	registry, err := stats.NewRegistry(statsCfg, stats.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create metric registry: %w", err)
	}

	// Snapshot history is optional; without it the API and socket report
	// history as disabled and the reporter only logs.
	var history model.HistoryReader
	var writer report.SnapshotWriter
	if cfg.HistoryEnabled {
		store, err := duckdb.NewStore(cfg.DBPath,
			duckdb.WithLogger(log),
			duckdb.WithQueryTimeout(cfg.QueryTimeout),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
		history, writer = store, store

		retention := duckdb.DefaultRetentionConfig()
		retention.Days, retention.Logger = cfg.HistoryRetention, log
		if cleaner := duckdb.NewRetentionCleaner(store, retention); cleaner != nil {
			defer func() {
				cleaner.Stop()
				log.Debug("history retention stopped", "pruned", cleaner.Deleted())
			}()
		}
	}

	reporter := report.New(registry, writer, report.Config{
		Interval: cfg.ReportInterval,
		Logger:   log,
	})
	reporter.Start()
	defer reporter.Stop()

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, registry, history, log)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	if cfg.OTLPEnabled {
		receiver := otlpreceiver.NewReceiver(cfg.OTLPAddr, registry, log)
		if err := receiver.Start(); err != nil {
			return fmt.Errorf("failed to start OTLP receiver: %w", err)
		}
		defer receiver.Stop()
	}

	// Socket RPC serves the TUI; failing to bind it is not fatal.
	sockServer := socketrpc.NewServer(cfg.SocketPath, registry, history, log)
	socketOK := true
	if err := sockServer.Start(); err != nil {
		log.Warn("failed to start socket server", "path", cfg.SocketPath, "error", err)
		socketOK = false
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// The deadline starts at the first signal, not at boot.
		deadline := time.NewTimer(shutdownDeadline)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	sources := buildSources(ctx, cfg, log)
	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor, err := ingest.NewEnvelopeProcessor(cfg.Processor, registry, "", ingest.WithLogger(log))
	if err != nil {
		mux.Stop()
		return err
	}

	printStartupBanner(cfg, mux.SourceNames(), processor.Name(), socketOK)
	log.Info("windstat started",
		"version", version,
		"windows", strings.Join(cfg.Windows, ","),
		"sources", strings.Join(mux.SourceNames(), ","),
		"processor", processor.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			return nil
		})
	}

	// Services keep running after the inputs close; only a signal ends the run.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
	}

	cancel()
	mux.Stop()

	recorded, rejected := processor.Stats()
	log.Info("windstat stopped",
		"recorded", recorded,
		"rejected", rejected,
		"metrics", registry.Len(),
		"forwarded", mux.Forwarded(),
	)
	return nil
}

// buildSources starts every enabled input plugin. Stdin is only read when
// it is piped.
func buildSources(ctx context.Context, cfg appConfig, log *slog.Logger) []NamedLineSource {
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled:     cfg.TCPEnabled,
		TCPAddr:        cfg.TCPAddr,
		TCPMaxConns:    cfg.TCPMaxConns,
		TCPIdleTimeout: cfg.TCPIdleTimeout,
		MaxLineSize:    cfg.MaxLineSize,
		Logger:         log,
	})

	sources := make([]NamedLineSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Error("failed to initialize input plugin", "plugin", plugin.Name(), "error", err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig, sources []string, processorName string, socketOK bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	on := green.Render("●")
	off := dim.Render("●")

	row := func(enabled bool, label, value string) string {
		if !enabled {
			return fmt.Sprintf("    %s  %-14s %s", off, label, dim.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", on, label, cyan.Render(value))
	}
	addrOr := func(enabled bool, addr string) string {
		if enabled {
			return addr
		}
		return "disabled"
	}

	logo := cyan.Bold(true).Render(`
    ╦ ╦╦╔╗╔╔╦╗╔═╗╔╦╗╔═╗╔╦╗
    ║║║║║║║ ║║╚═╗ ║ ╠═╣ ║
    ╚╩╝╩╝╚╝═╩╝╚═╝ ╩ ╩ ╩ ╩`)
	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Inputs"), "")
	lines = append(lines, row(cfg.TCPEnabled, "TCP Ingest", addrOr(cfg.TCPEnabled, cfg.TCPAddr)))
	lines = append(lines, row(cfg.OTLPEnabled, "OTLP gRPC", addrOr(cfg.OTLPEnabled, cfg.OTLPAddr)))
	stdin := "not piped"
	if slices.Contains(sources, "stdin") {
		stdin = "piped"
	}
	lines = append(lines, row(stdin == "piped", "Stdin", stdin))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Read API"), "")
	lines = append(lines, row(cfg.APIEnabled, "HTTP API", addrOr(cfg.APIEnabled, cfg.APIAddr)))
	lines = append(lines, row(socketOK, "Unix Socket", shortenPath(cfg.SocketPath)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Statistics"), "")
	lines = append(lines, row(true, "Raw Window", cfg.RawWindow.String()))
	lines = append(lines, row(true, "Windows", strings.Join(cfg.Windows, " ")))
	lines = append(lines, row(true, "Processor", processorName))
	if cfg.HistoryEnabled {
		lines = append(lines, row(true, "History", fmt.Sprintf("%s (%d days)", shortenPath(cfg.DBPath), cfg.HistoryRetention)))
	} else {
		lines = append(lines, row(false, "History", "disabled"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
