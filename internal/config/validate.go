package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// minProductionPassword is the shortest password accepted in production.
const minProductionPassword = 12

var secureSSLModes = []string{"require", "verify-ca", "verify-full"}

// validatePort requires a decimal TCP port in 1-65535. context names the section in errors.
func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, n)
	}
	return nil
}

// validateHost requires a non-empty host without surrounding whitespace.
func validateHost(host, context string) error {
	return validateNoWhitespace(host, context+" host")
}

// validateNoWhitespace requires a non-empty value without surrounding whitespace.
func validateNoWhitespace(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}

// validatePasswordStrength enforces the minimum length in production only.
func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < minProductionPassword {
		return fmt.Errorf("%s password must be at least %d characters in production", context, minProductionPassword)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	return slices.Contains(secureSSLModes, mode)
}

// parseAndValidateURL parses rawURL and requires one of schemes and a host.
func parseAndValidateURL(rawURL string, schemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, schemes)
	}
	if parsed.Host == "" {
		return nil, errors.New("host is required in URL")
	}
	return parsed, nil
}
