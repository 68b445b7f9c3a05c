// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Connection.RequestTimeout != 15*time.Second {
		t.Errorf("expected default connection request timeout 15s, got %v", cfg.Connection.RequestTimeout)
	}
	if cfg.Transport.MaxFrameSize != 16*1024*1024 {
		t.Errorf("expected default max frame size 16MiB, got %d", cfg.Transport.MaxFrameSize)
	}
	if cfg.Failover.Backoff != 2.0 {
		t.Errorf("expected default backoff factor 2.0, got %v", cfg.Failover.Backoff)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format text, got %s", cfg.Log.Format)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name: "default plus a uri is valid",
			modify: func(c *Config) {
				c.Connection.URIs = []string{"tcp://localhost:61616"}
			},
			wantErr: false,
		},
		{
			name:    "no broker uris configured",
			modify:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "non-positive max frame size",
			modify: func(c *Config) {
				c.Connection.URIs = []string{"tcp://localhost:61616"}
				c.Transport.MaxFrameSize = 0
			},
			wantErr: true,
		},
		{
			name: "backoff factor below 1.0",
			modify: func(c *Config) {
				c.Connection.URIs = []string{"tcp://localhost:61616"}
				c.Failover.Backoff = 0.5
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Connection.URIs = []string{"tcp://localhost:61616"}
				c.Log.Format = "xml"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}
	if cfg.Transport.MaxFrameSize != 16*1024*1024 {
		t.Errorf("expected default config, got max frame size %d", cfg.Transport.MaxFrameSize)
	}
}

func TestLoadEmptyFilename(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") should return default config and no error, got error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default config, got log level %s", cfg.Log.Level)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	cfg := Default()
	cfg.Connection.URIs = []string{"tcp://broker.internal:61616"}
	cfg.Connection.ClientID = "gocms-test"
	cfg.Failover.Backoff = 1.5
	cfg.Log.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(loaded.Connection.URIs) != 1 || loaded.Connection.URIs[0] != "tcp://broker.internal:61616" {
		t.Errorf("expected uris [tcp://broker.internal:61616], got %v", loaded.Connection.URIs)
	}
	if loaded.Connection.ClientID != "gocms-test" {
		t.Errorf("expected client id gocms-test, got %s", loaded.Connection.ClientID)
	}
	if loaded.Failover.Backoff != 1.5 {
		t.Errorf("expected backoff 1.5, got %v", loaded.Failover.Backoff)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tmpfile := t.TempDir() + "/bad.yaml"
	cfg := Default()
	cfg.Connection.URIs = []string{"tcp://broker.internal:61616"}
	cfg.Log.Format = "xml"
	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := Load(tmpfile); err == nil {
		t.Fatal("Load() should reject a config with an invalid log format")
	}
}
