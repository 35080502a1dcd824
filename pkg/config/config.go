// Package config holds the settings of the statehub binary: inspector
// address, logging, store executor and tracing.
//
// Settings are resolved in three layers: Default, then a YAML file merged
// over it with Load, then STATEHUB_* environment variables applied with
// ApplyEnv.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wilhg/statehub/pkg/executor"
)

// Config is the binary's configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Name string `yaml:"name"`
	// Executor is "serial" or "immediate".
	Executor string `yaml:"executor"`
}

type TracingConfig struct {
	ServiceName string `yaml:"service_name"`
	Stdout      bool   `yaml:"stdout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Name: "todo", Executor: executor.NameSerial},
		Tracing: TracingConfig{ServiceName: "statehub"},
	}
}

// Merge applies the non-zero values of source onto c.
func (c *Config) Merge(source *Config) {
	if source == nil {
		return
	}
	if source.Server.Addr != "" {
		c.Server.Addr = source.Server.Addr
	}
	if source.Log.Level != "" {
		c.Log.Level = source.Log.Level
	}
	if source.Log.Format != "" {
		c.Log.Format = source.Log.Format
	}
	if source.Store.Name != "" {
		c.Store.Name = source.Store.Name
	}
	if source.Store.Executor != "" {
		c.Store.Executor = source.Store.Executor
	}
	if source.Tracing.ServiceName != "" {
		c.Tracing.ServiceName = source.Tracing.ServiceName
	}
	if source.Tracing.Stdout {
		c.Tracing.Stdout = true
	}
}

// Load reads a YAML file and merges it over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Merge(&loaded)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv loads a .env file from the working directory when present, then
// overrides c with the STATEHUB_* variables that are set.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	c.Merge(&Config{
		Server:  ServerConfig{Addr: os.Getenv("STATEHUB_ADDR")},
		Log:     LogConfig{Level: os.Getenv("STATEHUB_LOG_LEVEL"), Format: os.Getenv("STATEHUB_LOG_FORMAT")},
		Store:   StoreConfig{Name: os.Getenv("STATEHUB_STORE_NAME"), Executor: os.Getenv("STATEHUB_EXECUTOR")},
		Tracing: TracingConfig{ServiceName: os.Getenv("STATEHUB_SERVICE_NAME")},
	})
	if v := os.Getenv("STATEHUB_TRACE_STDOUT"); v != "" {
		stdout, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STATEHUB_TRACE_STDOUT: %w", err)
		}
		c.Tracing.Stdout = stdout
	}
	return c.Validate()
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	switch c.Store.Executor {
	case executor.NameSerial, executor.NameImmediate:
	default:
		return fmt.Errorf("invalid executor: %s (must be %s or %s)", c.Store.Executor, executor.NameSerial, executor.NameImmediate)
	}
	return nil
}

// NewLogger builds a logger writing to w at the configured level and format.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}
