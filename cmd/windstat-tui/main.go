package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/windstat/internal/socketrpc"
	"github.com/tinytelemetry/windstat/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const dialRetryDelay = 250 * time.Millisecond

type cliFlags struct {
	configPath string
	socketPath string
	metric     string
	interval   time.Duration
	wait       time.Duration
}

func main() {
	var f cliFlags
	var showVersion bool

	flag.StringVar(&f.configPath, "config", "", "config file (default is $HOME/.config/windstat/config.yml)")
	flag.StringVar(&f.socketPath, "socket", "", "override the windstat service socket path")
	flag.StringVar(&f.metric, "metric", "", "metric to select on start")
	flag.DurationVar(&f.interval, "interval", 0, "override the dashboard refresh interval")
	flag.DurationVar(&f.wait, "wait", 0, "keep retrying the socket this long before giving up")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Windstat TUI - Window Statistics Dashboard\n")
		fmt.Printf("  Version:    %s (%s)\n", version, commit)
		fmt.Printf("  Built:      %s with %s\n", buildTime, goVersion)
		return
	}

	cfg, err := loadCLIConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = cfg.withFlags(f)

	if err := runTUI(cfg, f.metric); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig, metric string) error {
	client, err := dialService(cfg.SocketPath, cfg.DialWait)
	if err != nil {
		return fmt.Errorf("cannot reach windstat at %s: %w\nStart the service with: windstat", cfg.SocketPath, err)
	}
	defer client.Close()

	dashboard := tui.NewDashboardModel(client, cfg.UpdateInterval, "Socket")
	dashboard.Select(metric)
	app := tui.NewApp(tui.NewDashboardPage(dashboard), tui.NewHistoryPage(client))

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return errors.New("the dashboard needs a real terminal")
		}
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

// dialService connects to the service socket, retrying until wait elapses
// so the dashboard can be launched alongside the service.
func dialService(path string, wait time.Duration) (*socketrpc.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), max(wait, dialRetryDelay))
	defer cancel()

	for {
		client, err := socketrpc.DialContext(ctx, path)
		if err == nil {
			return client, nil
		}
		if wait <= 0 {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(dialRetryDelay):
		}
	}
}
