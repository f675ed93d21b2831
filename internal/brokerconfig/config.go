// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package brokerconfig loads and validates the YAML configuration for the
// broker command.
package brokerconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete broker-side configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Logging   LoggingConfig   `yaml:"logging"`
	StatusAPI StatusAPIConfig `yaml:"status_api"`
}

// BrokerConfig controls the listening transport.
type BrokerConfig struct {
	// Flavor selects the wire transport: "envelope" (ROUTER/DEALER) or
	// "connection" (SERVER/CLIENT).
	Flavor  string `yaml:"flavor"`
	Address string `yaml:"address"`

	HeartbeatInterval string `yaml:"heartbeat_interval"`
	HeartbeatLiveness int    `yaml:"heartbeat_liveness"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Silent bool   `yaml:"silent"`
}

// StatusAPIConfig controls the optional read-only HTTP introspection server.
type StatusAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("brokerconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("brokerconfig: parse %s: %w", path, err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("brokerconfig: validate %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("brokerconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("brokerconfig: write %s: %w", path, err)
	}
	return nil
}

// Default returns the broker's default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Broker.Flavor == "" {
		c.Broker.Flavor = "envelope"
	}
	if c.Broker.Address == "" {
		c.Broker.Address = "tcp://*:5555"
	}
	if c.Broker.HeartbeatInterval == "" {
		c.Broker.HeartbeatInterval = "2500ms"
	}
	if c.Broker.HeartbeatLiveness == 0 {
		c.Broker.HeartbeatLiveness = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.StatusAPI.Address == "" {
		c.StatusAPI.Address = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Broker.Flavor != "envelope" && c.Broker.Flavor != "connection" {
		return fmt.Errorf("broker.flavor must be \"envelope\" or \"connection\", got %q", c.Broker.Flavor)
	}
	if c.Broker.Address == "" {
		return fmt.Errorf("broker.address cannot be empty")
	}
	if _, err := time.ParseDuration(c.Broker.HeartbeatInterval); err != nil {
		return fmt.Errorf("invalid broker.heartbeat_interval: %w", err)
	}
	if c.Broker.HeartbeatLiveness <= 0 {
		return fmt.Errorf("broker.heartbeat_liveness must be greater than 0")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, l := range validLevels {
		if c.Logging.Level == l {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid logging.level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	if c.StatusAPI.Enabled && c.StatusAPI.Address == "" {
		return fmt.Errorf("status_api.address cannot be empty when status_api.enabled is true")
	}

	return nil
}

// HeartbeatIntervalDuration returns the configured heartbeat interval.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Broker.HeartbeatInterval)
	return d
}
