// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the API service.
type Config struct {
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	GRPCAddr          string        `mapstructure:"GRPC_ADDR"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AuthSecret        string        `mapstructure:"AUTH_SECRET"`
	AuthRequired      bool          `mapstructure:"AUTH_REQUIRED"`
	TokenTTL          time.Duration `mapstructure:"TOKEN_TTL"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitPerSec   float64       `mapstructure:"RATE_LIMIT_PER_SEC"`
	TrustProxyHeaders bool          `mapstructure:"TRUST_PROXY_HEADERS"`
	RabbitMQURL       string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange    string        `mapstructure:"EVENTS_EXCHANGE"`
	LinkSweepSchedule string        `mapstructure:"LINK_SWEEP_SCHEDULE"`
	AppVersion        string        `mapstructure:"APP_VERSION"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"HTTP_ADDR":           ":8080",
	"GRPC_ADDR":           ":9090",
	"DATABASE_URL":        "",
	"AUTH_SECRET":         "",
	"AUTH_REQUIRED":       true,
	"TOKEN_TTL":           "15m",
	"REDIS_URL":           "",
	"RATE_LIMIT_BURST":    20,
	"RATE_LIMIT_PER_SEC":  10,
	"TRUST_PROXY_HEADERS": false,
	"RABBITMQ_URL":        "",
	"EVENTS_EXCHANGE":     "consultdesk.events",
	"LINK_SWEEP_SCHEDULE": "@every 5m",
	"APP_VERSION":         "dev",
	"SHUTDOWN_TIMEOUT":    "10s",
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
		// Bind explicitly so Unmarshal sees variables without defaults too.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.RabbitMQURL = strings.TrimSpace(cfg.RabbitMQURL)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	if c.AuthRequired && strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("AUTH_SECRET is required when AUTH_REQUIRED is true")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.RateLimitBurst < 0 || c.RateLimitPerSec < 0 {
		return errors.New("rate limits must not be negative")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("HTTP_ADDR is required")
	}
	return nil
}

// InMemory reports whether the service runs without PostgreSQL.
func (c *Config) InMemory() bool { return c.DatabaseURL == "" }
