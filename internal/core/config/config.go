package config

import (
	"time"

	"github.com/ndthang/copyflow/internal/infra/redisq"
	"github.com/ndthang/copyflow/internal/infra/storage/postgres"
	"github.com/ndthang/copyflow/internal/venue/httpvenue"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig     `yaml:"server"`
	Engine   EngineConfig     `yaml:"engine"`
	Venue    httpvenue.Config `yaml:"venue"`
	Redis    redisq.Config    `yaml:"redis"`
	Logging  LoggingConfig    `yaml:"logging"`
	Database postgres.Config  `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EngineConfig holds retry engine tuning.
type EngineConfig struct {
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	Stagger      time.Duration `yaml:"stagger"`
	Cooldown     time.Duration `yaml:"cooldown"`
	MaxCooldowns int           `yaml:"max_cooldowns"`
	MaxAgeClose  time.Duration `yaml:"max_age_close"`
	MaxAgeOpen   time.Duration `yaml:"max_age_open"`
	MigrationDir string        `yaml:"migration_dir"`
}
