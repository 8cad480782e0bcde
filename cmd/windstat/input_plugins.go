package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tinytelemetry/windstat/internal/logsource"
	"github.com/tinytelemetry/windstat/internal/tcpserver"
)

// NamedLineSource is any producer of measurement lines the mux can drain.
type NamedLineSource = logsource.LineSource

// InputSourcePlugin builds one kind of line source when enabled.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedLineSource, error)
}

// InputPluginConfig carries the input settings from appConfig.
type InputPluginConfig struct {
	TCPEnabled     bool
	TCPAddr        string
	TCPMaxConns    int
	TCPIdleTimeout time.Duration
	MaxLineSize    int
	Logger         *slog.Logger
}

func (c InputPluginConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// buildInputPlugins lists every known input in start order.
func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		tcpInputPlugin{cfg: cfg},
		stdinInputPlugin{cfg: cfg},
	}
}

type tcpInputPlugin struct {
	cfg InputPluginConfig
}

func (p tcpInputPlugin) Name() string  { return "tcp" }
func (p tcpInputPlugin) Enabled() bool { return p.cfg.TCPEnabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLineSource, error) {
	server := tcpserver.NewServer(p.cfg.TCPAddr, tcpserver.ServerConfig{
		MaxLineSize: p.cfg.MaxLineSize,
		MaxConns:    p.cfg.TCPMaxConns,
		IdleTimeout: p.cfg.TCPIdleTimeout,
		Logger:      p.cfg.logger(),
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("tcp input on %s: %w", p.cfg.TCPAddr, err)
	}
	return logsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	cfg InputPluginConfig
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is a pipe or file rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLineSource, error) {
	return logsource.NewStdinSource(ctx, logsource.ReaderConfig{
		MaxLineSize: p.cfg.MaxLineSize,
		Logger:      p.cfg.logger(),
	}), nil
}
