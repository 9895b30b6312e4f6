// Package testsupport starts disposable backends for tests: an in-memory SQLite record
// store, and PostgreSQL and Redis containers for integration suites.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/norns/internal/config"
	"github.com/rafaeljc/norns/internal/database"
	"github.com/rafaeljc/norns/internal/store"
)

// recordTables lists every table of the record schema, children first.
var recordTables = []string{"goals", "events", "experiments", "instances"}

// PostgresContainer is a migrated PostgreSQL instance with a pool and a record store on it.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	Store            *store.PostgresStore
	ConnectionString string
}

// Reset empties every record table so scenarios sharing a container start clean.
func (c *PostgresContainer) Reset(ctx context.Context) error {
	for _, table := range recordTables {
		if _, err := c.DB.Exec(ctx, "TRUNCATE TABLE "+table+" RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// StartPostgresContainer runs postgres:15-alpine with every *.sql file of migrationsDir
// applied in name order, then connects through database.NewPostgresPool.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	migrations, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("invalid migrations path %q: %w", migrationsDir, err)
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", migrationsDir)
	}
	slices.Sort(migrations)
	for i, m := range migrations {
		if migrations[i], err = filepath.Abs(m); err != nil {
			return nil, fmt.Errorf("failed to resolve migration %s: %w", m, err)
		}
	}

	ctr, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("norns_test"),
		postgres.WithUsername("norns"),
		postgres.WithPassword("norns"),
		postgres.WithInitScripts(migrations...),
		testcontainers.WithWaitStrategy(
			// The server restarts once after running init scripts.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:             connStr,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  3,
		PingBackoff:     500 * time.Millisecond,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{
		Container:        ctr,
		DB:               pool,
		Store:            store.NewPostgresStore(pool),
		ConnectionString: connStr,
	}, nil
}
