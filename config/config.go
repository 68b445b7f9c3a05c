// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package config loads gocms client configuration from YAML, mirroring the
// teacher's config.Config/Default/Load/Validate pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration, turned into connection
// options by cmsclient.NewOptionsFromConfig.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Transport  TransportConfig  `yaml:"transport"`
	Failover   FailoverConfig   `yaml:"failover"`
	WireFormat WireFormatConfig `yaml:"wire_format"`
	Pool       PoolConfig       `yaml:"pool"`
	AckStore   AckStoreConfig   `yaml:"ack_store"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig configures cmsclient.Options.
type ConnectionConfig struct {
	URIs           []string      `yaml:"uris"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TransportConfig configures transport.Options.
type TransportConfig struct {
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	WriteCheckInterval  time.Duration `yaml:"write_check_interval"`
	ReadCheckInterval   time.Duration `yaml:"read_check_interval"`
	MaxFrameSize        int64         `yaml:"max_frame_size"`
	CompressionEnabled  bool          `yaml:"compression_enabled"`
	CompressionMinSize  int           `yaml:"compression_min_size"`
}

// FailoverConfig configures reconnect behavior (transport.Options's
// failover fields).
type FailoverConfig struct {
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	InitialReconnectDelay time.Duration `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `yaml:"max_reconnect_delay"`
	Backoff               float64       `yaml:"backoff"`
}

// WireFormatConfig configures the local WireFormatInfo offer.
type WireFormatConfig struct {
	TightEncodingEnabled bool `yaml:"tight_encoding_enabled"`
	StackTraceEnabled    bool `yaml:"stack_trace_enabled"`
}

// PoolConfig configures a pool.SessionPool-backed template.Template.
type PoolConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AckStoreConfig configures the durable store backing CLIENT/TRANSACTED
// redelivery bookkeeping. An empty Dir keeps the in-memory default.
type AckStoreConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig configures the client's log/slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the client configuration used when no config file is
// present, matching the teacher's Default()/Load() fallback contract.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			RequestTimeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			ConnectTimeout:     10 * time.Second,
			RequestTimeout:     15 * time.Second,
			WriteCheckInterval: 10 * time.Second,
			ReadCheckInterval:  30 * time.Second,
			MaxFrameSize:       16 * 1024 * 1024,
			CompressionMinSize: 1024,
		},
		Failover: FailoverConfig{
			InitialReconnectDelay: 100 * time.Millisecond,
			MaxReconnectDelay:     30 * time.Second,
			Backoff:               2.0,
		},
		WireFormat: WireFormatConfig{
			TightEncodingEnabled: true,
			StackTraceEnabled:    true,
		},
		Pool: PoolConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads filename as YAML over the Default() configuration. A missing
// file is not an error: Load returns Default() unchanged, the same
// fallback the teacher's config.Load uses.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("gocms/config: read %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("gocms/config: parse %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gocms/config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if len(c.Connection.URIs) == 0 {
		return fmt.Errorf("connection.uris must not be empty")
	}
	if c.Transport.MaxFrameSize <= 0 {
		return fmt.Errorf("transport.max_frame_size must be positive")
	}
	if c.Failover.Backoff < 1.0 {
		return fmt.Errorf("failover.backoff must be >= 1.0")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// Save writes c to filename as YAML, matching the teacher's config.Save.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("gocms/config: marshal: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
