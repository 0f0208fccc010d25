package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string        `env:"SKIRMISH_ADDR"               envDefault:":8080"`
	APIBearerToken   string        `env:"SKIRMISH_API_BEARER_TOKEN"`
	LogLevel         string        `env:"SKIRMISH_LOG_LEVEL"          envDefault:"info"`
	LogDevelopment   bool          `env:"SKIRMISH_LOG_DEVELOPMENT"    envDefault:"false"`
	AllowedOrigins   []string      `env:"SKIRMISH_ALLOWED_ORIGINS"    envSeparator:","`
	EventLogCapacity int           `env:"SKIRMISH_EVENT_LOG_CAPACITY" envDefault:"64"`
	OutboxSize       int           `env:"SKIRMISH_OUTBOX_SIZE"        envDefault:"64"`
	WriteTimeout     time.Duration `env:"SKIRMISH_WRITE_TIMEOUT"      envDefault:"3s"`
	PingInterval     time.Duration `env:"SKIRMISH_PING_INTERVAL"      envDefault:"20s"`
	ShutdownTimeout  time.Duration `env:"SKIRMISH_SHUTDOWN_TIMEOUT"   envDefault:"10s"`
}

// Load reads the optional .env files, then the environment. Variables that
// are already set win over .env entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.EventLogCapacity <= 0 {
		return fmt.Errorf("SKIRMISH_EVENT_LOG_CAPACITY must be positive, got %d", c.EventLogCapacity)
	}
	if c.OutboxSize <= 0 {
		return fmt.Errorf("SKIRMISH_OUTBOX_SIZE must be positive, got %d", c.OutboxSize)
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 || c.ShutdownTimeout <= 0 {
		return errors.New("timeouts and intervals must be positive")
	}
	return nil
}
