package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/windstat/internal/logger"
	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/socketrpc"
	"github.com/tinytelemetry/windstat/internal/stats"
	"github.com/tinytelemetry/windstat/internal/tcpserver"
)

const (
	defaultBindHost         = "127.0.0.1"
	defaultTCPPort          = 4000
	defaultAPIPort          = 3000
	defaultOTLPPort         = 4317
	defaultMuxBufferSize    = DefaultMuxBuffer
	defaultReportInterval   = 10 * time.Second
	defaultQueryTimeout     = 30 * time.Second
	defaultHistoryRetention = 7 // days, 0 = keep forever
	defaultTCPMaxConns      = tcpserver.DefaultMaxConns
	defaultMaxLineSize      = tcpserver.DefaultMaxLineSize
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	RawWindow     time.Duration `mapstructure:"raw-window" yaml:"raw-window"`
	BucketSize    time.Duration `mapstructure:"bucket-size" yaml:"bucket-size"`
	Windows       []string      `mapstructure:"windows" yaml:"windows"`
	WindowBuckets int           `mapstructure:"window-buckets" yaml:"window-buckets"`
	MaxMetrics    int           `mapstructure:"max-metrics" yaml:"max-metrics"`

	Host          string `mapstructure:"host" yaml:"host"`
	Processor     string `mapstructure:"processor" yaml:"processor"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled" yaml:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port" yaml:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr" yaml:"tcp-addr"`
	TCPMaxConns   int    `mapstructure:"tcp-max-conns" yaml:"tcp-max-conns"`
	MaxLineSize   int    `mapstructure:"max-line-size" yaml:"max-line-size"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size" yaml:"mux-buffer-size"`
	APIEnabled    bool   `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort       int    `mapstructure:"api-port" yaml:"api-port"`
	APIAddr       string `mapstructure:"api-addr" yaml:"api-addr"`
	OTLPEnabled   bool   `mapstructure:"otlp-enabled" yaml:"otlp-enabled"`
	OTLPPort      int    `mapstructure:"otlp-port" yaml:"otlp-port"`
	OTLPAddr      string `mapstructure:"otlp-addr" yaml:"otlp-addr"`
	SocketPath    string `mapstructure:"socket-path" yaml:"socket-path"`

	TCPIdleTimeout time.Duration `mapstructure:"tcp-idle-timeout" yaml:"tcp-idle-timeout"`

	ReportInterval   time.Duration `mapstructure:"report-interval" yaml:"report-interval"`
	HistoryEnabled   bool          `mapstructure:"history-enabled" yaml:"history-enabled"`
	DBPath           string        `mapstructure:"db-path" yaml:"db-path"`
	HistoryRetention int           `mapstructure:"history-retention" yaml:"history-retention"`
	QueryTimeout     time.Duration `mapstructure:"query-timeout" yaml:"query-timeout"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file"`

	ConfigPath string `mapstructure:"-" yaml:"-"` // not from config file
}

func defaultWindowNames() []string {
	names := make([]string, 0, len(model.DefaultWindows))
	for _, d := range model.DefaultWindows {
		names = append(names, d.String())
	}
	return names
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "windstat", "history.duckdb")

	v := viper.New()
	v.SetEnvPrefix("WINDSTAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("raw-window", model.DefaultRawWindow)
	v.SetDefault("bucket-size", model.DefaultBucketSize)
	v.SetDefault("windows", defaultWindowNames())
	v.SetDefault("window-buckets", model.DefaultWindowBuckets)
	v.SetDefault("max-metrics", model.DefaultMaxMetrics)
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("processor", "parse")
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("tcp-max-conns", defaultTCPMaxConns)
	v.SetDefault("tcp-idle-timeout", time.Duration(0))
	v.SetDefault("max-line-size", defaultMaxLineSize)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("otlp-enabled", true)
	v.SetDefault("otlp-port", defaultOTLPPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("report-interval", defaultReportInterval)
	v.SetDefault("history-enabled", true)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("history-retention", defaultHistoryRetention)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", logger.DefaultFile())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "windstat", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	for name, port := range map[string]int{"tcp-port": cfg.TCPPort, "api-port": cfg.APIPort, "otlp-port": cfg.OTLPPort} {
		if port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("invalid %s: %d", name, port)
		}
	}
	if cfg.TCPMaxConns <= 0 {
		return cfg, fmt.Errorf("invalid tcp-max-conns: %d", cfg.TCPMaxConns)
	}
	if cfg.MaxLineSize <= 0 {
		return cfg, fmt.Errorf("invalid max-line-size: %d", cfg.MaxLineSize)
	}
	if cfg.TCPIdleTimeout < 0 {
		return cfg, fmt.Errorf("invalid tcp-idle-timeout: %v", cfg.TCPIdleTimeout)
	}
	if _, err := cfg.statsConfig(); err != nil {
		return cfg, err
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.LogFile = expandHome(cfg.LogFile, home)

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	if cfg.OTLPAddr == "" {
		cfg.OTLPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.OTLPPort))
	}

	return cfg, nil
}

// statsConfig converts the window settings into a validated stats.Config.
func (c appConfig) statsConfig() (stats.Config, error) {
	durations := make([]time.Duration, 0, len(c.Windows))
	for _, w := range c.Windows {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		d, err := time.ParseDuration(w)
		if err != nil {
			return stats.Config{}, fmt.Errorf("invalid window %q: %w", w, err)
		}
		durations = append(durations, d)
	}
	sc := stats.Config{
		RawWindow:  c.RawWindow,
		BucketSize: c.BucketSize,
		Windows:    stats.WindowsFromDurations(durations, c.WindowBuckets),
		MaxMetrics: c.MaxMetrics,
	}
	if err := sc.Validate(); err != nil {
		return stats.Config{}, err
	}
	return sc, nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
