package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Engine.Interval == 0 {
		cfg.Engine.Interval = 2 * time.Second
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = 2
	}
	if cfg.Engine.Stagger == 0 {
		cfg.Engine.Stagger = 500 * time.Millisecond
	}
	if cfg.Engine.Cooldown == 0 {
		cfg.Engine.Cooldown = 2 * time.Minute
	}
	if cfg.Engine.MaxCooldowns == 0 {
		cfg.Engine.MaxCooldowns = 2
	}
	if cfg.Engine.MaxAgeClose == 0 {
		cfg.Engine.MaxAgeClose = 5 * time.Minute
	}
	if cfg.Engine.MaxAgeOpen == 0 {
		cfg.Engine.MaxAgeOpen = 60 * time.Minute
	}
	if cfg.Engine.MigrationDir == "" {
		cfg.Engine.MigrationDir = "migrations"
	}
	if cfg.Venue.Timeout == 0 {
		cfg.Venue.Timeout = 30 * time.Second
	}
}
