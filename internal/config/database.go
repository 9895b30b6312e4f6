package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	// DriverPostgres selects the PostgreSQL record store.
	DriverPostgres = "postgres"
	// DriverSQLite selects the embedded SQLite record store.
	DriverSQLite = "sqlite"

	// SQLiteMemory opens a private in-memory SQLite database.
	SQLiteMemory = ":memory:"

	// maxPostgresIdentifier is PostgreSQL's NAMEDATALEN minus one.
	maxPostgresIdentifier = 63
)

// DatabaseConfig selects and configures the record store.
// PostgreSQL is the production backend; SQLite serves local development and single-node setups.
type DatabaseConfig struct {
	Driver     string `envconfig:"DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"norns.db"`

	// PostgreSQL: either URL or the individual components.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Startup ping: attempts and the initial backoff, doubled after each failure.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// IsConfigured reports whether the selected driver has enough settings to open.
func (c *DatabaseConfig) IsConfigured() bool {
	if c.Driver == DriverSQLite {
		return c.SQLitePath != ""
	}
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

// ConnectionString returns the PostgreSQL URL, building it from components when URL is empty.
// Credentials are escaped, so passwords may contain URL metacharacters.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks the settings of the selected driver.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.Driver == DriverSQLite {
		return c.validateSQLite(environment)
	}

	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	} else if err := c.validateEndpoint(environment); err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

func (c *DatabaseConfig) validateSQLite(environment string) error {
	if err := validateNoWhitespace(c.SQLitePath, "sqlite path"); err != nil {
		return err
	}
	if environment == EnvironmentProduction && c.SQLitePath == SQLiteMemory {
		return fmt.Errorf("in-memory sqlite database is not allowed in production environment")
	}
	return nil
}

// validateEndpoint checks component settings. Production requires a strong password
// and an SSL mode that refuses plaintext.
func (c *DatabaseConfig) validateEndpoint(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Name, "database name"); err != nil {
		return err
	}
	if len(c.Name) > maxPostgresIdentifier {
		return fmt.Errorf("database name cannot exceed %d characters", maxPostgresIdentifier)
	}
	if err := validateNoWhitespace(c.User, "database user"); err != nil {
		return err
	}
	if environment != EnvironmentProduction {
		return nil
	}

	if c.Password == "" {
		return fmt.Errorf("database password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
		return err
	}
	if !isSecureSSLMode(c.SSLMode) {
		return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
	}
	return nil
}

// validatePostgresURL requires a postgres:// or postgresql:// URL naming a user and a database.
func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return fmt.Errorf("database name is required in URL path")
	}
	return nil
}
