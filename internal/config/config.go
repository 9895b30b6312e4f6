// Package config provides centralized configuration management for the Norns service.
// It uses envconfig for environment variable loading and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"

	// envPrefix is prepended to every environment variable (e.g. NORNS_APP_ENV).
	envPrefix = "NORNS"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	HTTP          HTTPConfig          `envconfig:"HTTP"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	Experiment    ExperimentConfig    `envconfig:"EXPERIMENT"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"norns"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables with the NORNS prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate runs struct tag rules first, then the cross-field rules of each section.
// Redis rules apply only when Redis is configured; without it sticky tags and principal
// bindings are disabled.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	env := c.App.Environment
	checks := []func() error{
		func() error { return c.Database.Validate(env) },
		func() error {
			if !c.Redis.IsConfigured() {
				return nil
			}
			return c.Redis.Validate(env)
		},
		func() error { return c.HTTP.Validate(env) },
		c.Observability.Validate,
		func() error {
			if c.HTTP.Port == c.Observability.Port {
				return fmt.Errorf("http port and observability port must differ, both are %s", c.HTTP.Port)
			}
			return nil
		},
		func() error { return c.Experiment.Validate(env) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("http_port", c.HTTP.Port),
		slog.Bool("tls_enabled", c.HTTP.TLSEnabled),
		slog.String("observability_port", c.Observability.Port),
		slog.String("db_driver", c.Database.Driver),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
		slog.String("cookie_name", c.Experiment.CookieName),
		slog.Int("skew_threshold", c.Experiment.SkewThreshold),
	)
}
