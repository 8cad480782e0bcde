package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/socketrpc"
)

// cliConfig is the dashboard's slice of the service config file. Reading
// the same file keeps socket-path in agreement with the service.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SocketPath     string        `mapstructure:"socket-path"`
	DialWait       time.Duration `mapstructure:"tui-dial-wait"`
}

func defaultConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "windstat", "config.yml"), nil
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	if configPath == "" {
		p, err := defaultConfigFile()
		if err != nil {
			return cfg, err
		}
		configPath = p
	}

	v := viper.New()
	v.SetEnvPrefix("WINDSTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("tui-dial-wait", time.Duration(0))

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c cliConfig) validate() error {
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update-interval must be positive, got %v", c.UpdateInterval)
	}
	if c.SocketPath == "" {
		return errors.New("socket-path must not be empty")
	}
	if c.DialWait < 0 {
		return fmt.Errorf("tui-dial-wait must not be negative, got %v", c.DialWait)
	}
	return nil
}

// withFlags applies command line overrides, which win over file and env.
func (c cliConfig) withFlags(f cliFlags) cliConfig {
	if f.socketPath != "" {
		c.SocketPath = f.socketPath
	}
	if f.interval > 0 {
		c.UpdateInterval = f.interval
	}
	if f.wait > 0 {
		c.DialWait = f.wait
	}
	return c
}
