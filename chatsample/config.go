package main

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/m3tsllc/signalr"
)

// Config is the content of the chat config file.
//
//	url = "http://localhost:5000/chat"
//	name = "alice"
//	log_level = "info"
//
//	[reconnect]
//	enabled = true
//	base_delay = "1s"
//	max_delay = "30s"
//	max_attempts = 10
type Config struct {
	URL       string          `toml:"url"`
	TCP       string          `toml:"tcp"`
	Name      string          `toml:"name"`
	LogLevel  string          `toml:"log_level"`
	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig holds the reconnect parameters. Durations are Go duration strings.
type ReconnectConfig struct {
	Enabled     bool   `toml:"enabled"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	MaxAttempts int    `toml:"max_attempts"`
}

func defaultConfig() Config {
	return Config{
		Name:     "John Doe",
		LogLevel: "info",
		Reconnect: ReconnectConfig{
			Enabled:     true,
			BaseDelay:   "1s",
			MaxDelay:    "30s",
			MaxAttempts: 10,
		},
	}
}

// loadConfig reads the config file at path over the defaults.
// If path is empty, the defaults are returned.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

// reconnectPolicy converts the reconnect section
func (c ReconnectConfig) reconnectPolicy() (signalr.ReconnectPolicy, error) {
	policy := signalr.DefaultReconnectPolicy()
	var err error
	if c.BaseDelay != "" {
		if policy.BaseDelay, err = time.ParseDuration(c.BaseDelay); err != nil {
			return policy, fmt.Errorf("reconnect.base_delay: %w", err)
		}
	}
	if c.MaxDelay != "" {
		if policy.MaxDelay, err = time.ParseDuration(c.MaxDelay); err != nil {
			return policy, fmt.Errorf("reconnect.max_delay: %w", err)
		}
	}
	policy.MaxAttempts = c.MaxAttempts
	return policy, nil
}
