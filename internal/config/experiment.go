package config

import (
	"fmt"
	"net/http"
	"time"
)

// ExperimentConfig tunes identity transport and the assignment engine.
type ExperimentConfig struct {
	// CookieName is the long-lived cookie carrying the instance token.
	CookieName string `envconfig:"COOKIE_NAME" default:"norns_instance"`
	// CookieMaxAge approximates a "forever" cookie (five years).
	CookieMaxAge time.Duration `envconfig:"COOKIE_MAX_AGE" default:"43800h" validate:"gt=0"`
	// CookieSecure sets the Secure attribute. Forced on in production.
	CookieSecure bool `envconfig:"COOKIE_SECURE" default:"false"`

	// PrincipalHeader carries the authenticated principal ID set by an upstream gateway.
	PrincipalHeader string `envconfig:"PRINCIPAL_HEADER" default:"X-Principal-ID"`

	// SkewThreshold is the count gap above which the least-used condition is forced.
	SkewThreshold int `envconfig:"SKEW_THRESHOLD" default:"3" validate:"min=0"`

	// L1 experiment cache (otter).
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"10000" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m" validate:"gt=0"`
}

// Validate checks ExperimentConfig fields for correctness.
func (c *ExperimentConfig) Validate(environment string) error {
	if err := validateNoWhitespace(c.CookieName, "cookie name"); err != nil {
		return err
	}
	// RFC 6265 token rules, as enforced by net/http.
	if err := (&http.Cookie{Name: c.CookieName, Value: "x"}).Valid(); err != nil {
		return fmt.Errorf("invalid cookie name: %w", err)
	}
	if err := validateNoWhitespace(c.PrincipalHeader, "principal header"); err != nil {
		return err
	}
	if environment == EnvironmentProduction && !c.CookieSecure {
		return fmt.Errorf("secure cookies must be enabled in production environment")
	}
	return nil
}
