package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/windstat/internal/duckdb"
)

// Set by ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var (
		configPath    string
		showVersion   bool
		printConfig   bool
		historyStatus bool
	)
	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/windstat/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration as YAML and exit")
	flag.BoolVar(&historyStatus, "history-status", false, "summarize the snapshot history database and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("Windstat - Windowed Latency Statistics\n")
		fmt.Printf("  Version:    %s (%s)\n", version, commit)
		fmt.Printf("  Built:      %s with %s\n", buildTime, goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}

	switch {
	case printConfig:
		err = writeConfigYAML(os.Stdout, cfg)
	case historyStatus:
		err = writeHistoryStatus(os.Stdout, cfg)
	default:
		err = runServer(cfg)
	}
	if err != nil {
		fatalf("Error: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func writeConfigYAML(w io.Writer, cfg appConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// writeHistoryStatus opens the history database the service would use and
// reports its schema version and contents. DuckDB takes an exclusive lock,
// so this fails while the service is running.
func writeHistoryStatus(w io.Writer, cfg appConfig) error {
	if !cfg.HistoryEnabled {
		return errors.New("history is disabled in the configuration")
	}
	store, err := duckdb.NewStore(cfg.DBPath, duckdb.WithQueryTimeout(cfg.QueryTimeout))
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	schema, err := store.SchemaStatus()
	if err != nil {
		return err
	}
	rows, err := store.SnapshotRowCount()
	if err != nil {
		return err
	}
	metrics, err := store.StoredMetrics()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "database:  %s\n", store.DBPath())
	fmt.Fprintf(w, "schema:    v%d (latest v%d)\n", schema.Current, schema.Latest)
	fmt.Fprintf(w, "retention: %d days\n", cfg.HistoryRetention)
	fmt.Fprintf(w, "rows:      %d\n", rows)
	fmt.Fprintf(w, "metrics:   %d\n", len(metrics))
	if len(metrics) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(metrics, "\n  "))
	}
	return nil
}
