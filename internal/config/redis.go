package config

import (
	"fmt"
	"strings"
	"time"
)

// RedisConfig configures the store for sticky tags and principal bindings.
// Redis is optional: leaving both URL and Host empty disables it.
type RedisConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// KeyPrefix namespaces every key, so several deployments can share one Redis.
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"norns" validate:"required,max=32"`

	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Startup ping: attempts and the initial backoff, doubled after each failure.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// IsConfigured reports whether enough is set to connect.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// Address returns the URL when set, otherwise host:port.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Validate checks the endpoint, the production security rules and the pool bounds.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else if err := c.validateEndpoint(environment); err != nil {
		return err
	}

	if strings.ContainsAny(c.KeyPrefix, ": \t") {
		return fmt.Errorf("redis key prefix %q cannot contain ':' or whitespace", c.KeyPrefix)
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}
	return nil
}

// validateEndpoint checks host/port settings. Production requires a strong password and TLS.
// A URL carries its own credentials and scheme, so it is not subject to these rules.
func (c *RedisConfig) validateEndpoint(environment string) error {
	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}
	if environment != EnvironmentProduction {
		return nil
	}

	if c.Password == "" {
		return fmt.Errorf("redis password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
		return err
	}
	if !c.TLSEnabled {
		return fmt.Errorf("redis TLS must be enabled in production environment")
	}
	return nil
}

// validateRedisURL accepts redis:// and rediss:// URLs with an optional /<db> path in 0-15.
func validateRedisURL(redisURL string) error {
	parsed, err := parseAndValidateURL(redisURL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	dbStr := strings.TrimPrefix(parsed.Path, "/")
	if dbStr == "" {
		return nil
	}
	var db int
	if _, err := fmt.Sscanf(dbStr, "%d", &db); err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", dbStr)
	}
	if db < 0 || db > 15 {
		return fmt.Errorf("database number must be between 0 and 15, got %d", db)
	}
	return nil
}
