package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestDefaultTimings(t *testing.T) {
	cfg := Default()
	if cfg.Relay.PingInterval != 30*time.Second {
		t.Fatalf("unexpected ping interval %v", cfg.Relay.PingInterval)
	}
	if cfg.Relay.JoinTimeout != 60*time.Second {
		t.Fatalf("unexpected join timeout %v", cfg.Relay.JoinTimeout)
	}
	if cfg.Relay.RoomMaxAge != 60*time.Minute {
		t.Fatalf("unexpected room max age %v", cfg.Relay.RoomMaxAge)
	}
	if cfg.Relay.TextMode {
		t.Fatal("relay should default to audio mode")
	}
}

func TestFromViperOverlaysDefaults(t *testing.T) {
	v := viper.New()
	v.Set("http.port", 9090)
	v.Set("relay.text_mode", true)
	v.Set("snapshot.path", "/tmp/relay.db")

	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper failed: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected overlaid port 9090, got %d", cfg.HTTP.Port)
	}
	if !cfg.Relay.TextMode {
		t.Fatal("expected text mode enabled")
	}
	if cfg.Snapshot.Path != "/tmp/relay.db" {
		t.Fatalf("unexpected snapshot path %q", cfg.Snapshot.Path)
	}
	// Untouched keys keep their defaults.
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Fatalf("unexpected host %q", cfg.HTTP.Host)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }, "port"},
		{"huge port", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"empty snapshot path", func(c *Config) { c.Snapshot.Path = "" }, "snapshot path"},
		{"zero ping interval", func(c *Config) { c.Relay.PingInterval = 0 }, "ping interval"},
		{"zero join timeout", func(c *Config) { c.Relay.JoinTimeout = 0 }, "join timeout"},
		{"zero room max age", func(c *Config) { c.Relay.RoomMaxAge = 0 }, "room max age"},
		{"nil relay", func(c *Config) { c.Relay = nil }, "relay configuration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
