package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full relay configuration tree.
type Config struct {
	HTTP     *HTTPConfig     `mapstructure:"http"`
	Snapshot *SnapshotConfig `mapstructure:"snapshot"`
	Relay    *RelayConfig    `mapstructure:"relay"`
	Speech   *SpeechConfig   `mapstructure:"speech"`
	Admin    *AdminConfig    `mapstructure:"admin"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SnapshotConfig configures the durable room mirror.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// RelayConfig carries the room lifecycle and heartbeat timings.
type RelayConfig struct {
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	JoinTimeout   time.Duration `mapstructure:"join_timeout"`
	RoomMaxAge    time.Duration `mapstructure:"room_max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	TextMode      bool          `mapstructure:"text_mode"`
}

// SpeechConfig holds the collaborator API keys. Either may be empty when the
// relay runs in the mode that does not need it.
type SpeechConfig struct {
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	GoogleAPIKey string `mapstructure:"google_api_key"`
}

type AdminConfig struct {
	Key string `mapstructure:"key"`
}

// Default returns the production defaults: 30s heartbeat, 60s join timeout,
// 60 minute room lifetime swept every minute.
func Default() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Snapshot: &SnapshotConfig{
			Path: "./polycast.db",
		},
		Relay: &RelayConfig{
			PingInterval:  30 * time.Second,
			JoinTimeout:   60 * time.Second,
			RoomMaxAge:    60 * time.Minute,
			SweepInterval: 60 * time.Second,
			TextMode:      false,
		},
		Speech: &SpeechConfig{},
		Admin:  &AdminConfig{},
	}
}

// FromViper overlays viper-bound settings onto the defaults.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.Snapshot == nil {
		return fmt.Errorf("snapshot configuration is required")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot path cannot be empty")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay ping interval must be positive")
	}
	if c.Relay.JoinTimeout <= 0 {
		return fmt.Errorf("relay join timeout must be positive")
	}
	if c.Relay.RoomMaxAge <= 0 {
		return fmt.Errorf("relay room max age must be positive")
	}
	if c.Relay.SweepInterval <= 0 {
		return fmt.Errorf("relay sweep interval must be positive")
	}

	if c.Speech == nil {
		return fmt.Errorf("speech configuration is required")
	}
	if c.Admin == nil {
		return fmt.Errorf("admin configuration is required")
	}

	return nil
}
