// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lmittmann/tint"
)

// Level is the shared level of every handler built by this package.
var Level = &level{lvl: &slog.LevelVar{}}

type level struct {
	lvl *slog.LevelVar
}

func (l *level) Enabled(lvl slog.Level) bool {
	return lvl >= l.lvl.Level()
}

func (l *level) Set(lvl slog.Level) {
	l.lvl.Set(lvl)
}

// SetByName accepts debug, info, warn(ing) and err(or). Unknown names keep
// the current level and return false.
func (l *level) SetByName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "err", "error":
		l.lvl.Set(slog.LevelError)
	case "warn", "warning":
		l.lvl.Set(slog.LevelWarn)
	case "info", "":
		l.lvl.Set(slog.LevelInfo)
	case "debug":
		l.lvl.Set(slog.LevelDebug)
	default:
		return false
	}
	return true
}

// Config selects the destination and verbosity.
type Config struct {
	// Level is a level name understood by SetByName.
	Level string
	// File is the log file path. "-" logs to stderr; empty uses
	// DefaultFile.
	File string
}

// DefaultFile returns ~/.local/state/windstat/windstat.log.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "-"
	}
	return filepath.Join(home, ".local", "state", "windstat", "windstat.log")
}

// Configure installs the default slog logger and returns a cleanup func
// that closes the log file, if any. When the file cannot be opened the
// logger falls back to stderr.
func Configure(cfg Config) (*slog.Logger, func()) {
	if !Level.SetByName(cfg.Level) {
		fmt.Fprintf(os.Stderr, "logger: unknown level %q, using info\n", cfg.Level)
		Level.Set(slog.LevelInfo)
	}

	path := cfg.File
	if path == "" {
		path = DefaultFile()
	}

	cleanup := func() {}
	var h slog.Handler
	if path == "-" {
		h = NewTerminalHandler(os.Stderr)
	} else {
		f, err := openLogFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v, logging to stderr\n", err)
			h = NewTerminalHandler(os.Stderr)
		} else {
			h = NewTextHandler(f)
			cleanup = func() { _ = f.Close() }
		}
	}

	l := slog.New(h)
	slog.SetDefault(l)
	return l, cleanup
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// NewTextHandler writes logfmt lines with lower-cased level names.
func NewTextHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: Level.lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				return slog.String(a.Key, strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
}

// NewTerminalHandler writes colored output for interactive use.
func NewTerminalHandler(w io.Writer) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		NoColor:    runtime.GOOS == "windows",
		Level:      Level.lvl,
		TimeFormat: "15:04:05.000",
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey && !Level.Enabled(slog.LevelDebug) {
				return slog.Attr{}
			}
			return a
		},
	})
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
