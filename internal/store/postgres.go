package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/norns/internal/validation"
)

// Compile-time check to verify that PostgresStore implements Repository.
// If the interface changes and the struct doesn't, the build fails here.
var _ Repository = (*PostgresStore)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the implementation of Repository backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "store: database pool")
	return &PostgresStore{db: db}
}

// Ping reports whether the database answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// FindOrCreateInstance upserts the instance row.
// The no-op DO UPDATE makes RETURNING yield the row in both the insert and the conflict path,
// so concurrent first contacts with the same token converge on one row in one round trip.
func (s *PostgresStore) FindOrCreateInstance(ctx context.Context, token string) (*Instance, error) {
	query := `
		INSERT INTO instances (token)
		VALUES ($1)
		ON CONFLICT (token) DO UPDATE SET token = EXCLUDED.token
		RETURNING id, token, client_address, created_at, updated_at
	`

	var inst Instance
	err := s.db.QueryRow(ctx, query, token).Scan(
		&inst.ID,
		&inst.Token,
		&inst.ClientAddress,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find or create instance: %w", ErrPersistence, err)
	}
	return &inst, nil
}

// UpdateInstanceAddress stores the client address and bumps updated_at.
func (s *PostgresStore) UpdateInstanceAddress(ctx context.Context, instanceID int64, address string) error {
	query := `UPDATE instances SET client_address = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, instanceID, address)
	if err != nil {
		return fmt.Errorf("%w: failed to update instance address: %w", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %d does not exist", ErrPersistence, instanceID)
	}
	return nil
}

// FindInstanceEvent returns the event fired by the instance for the experiment name.
func (s *PostgresStore) FindInstanceEvent(ctx context.Context, instanceID int64, name string) (*Event, bool, error) {
	query := `
		SELECT id, instance_id, experiment_id, name, value, created_at
		FROM events
		WHERE instance_id = $1 AND name = $2
	`

	var e Event
	err := s.db.QueryRow(ctx, query, instanceID, name).Scan(
		&e.ID,
		&e.InstanceID,
		&e.ExperimentID,
		&e.Name,
		&e.Value,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to find event: %w", ErrPersistence, err)
	}
	return &e, true, nil
}

// ListInstanceEvents returns the events of an instance ordered by ID.
func (s *PostgresStore) ListInstanceEvents(ctx context.Context, instanceID int64) ([]*Event, error) {
	query := `
		SELECT id, instance_id, experiment_id, name, value, created_at
		FROM events
		WHERE instance_id = $1
		ORDER BY id
	`

	rows, err := s.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events: %w", ErrPersistence, err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.ExperimentID, &e.Name, &e.Value, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan event row: %w", ErrPersistence, err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration error: %w", ErrPersistence, err)
	}
	return events, nil
}

// ListInstanceGoals returns the goals of an instance ordered by ID.
func (s *PostgresStore) ListInstanceGoals(ctx context.Context, instanceID int64) ([]*Goal, error) {
	query := `
		SELECT id, instance_id, goal, value, created_at
		FROM goals
		WHERE instance_id = $1
		ORDER BY id
	`

	rows, err := s.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list goals: %w", ErrPersistence, err)
	}
	defer rows.Close()

	goals := make([]*Goal, 0)
	for rows.Next() {
		var g Goal
		if err := rows.Scan(&g.ID, &g.InstanceID, &g.Goal, &g.Value, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan goal row: %w", ErrPersistence, err)
		}
		goals = append(goals, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration error: %w", ErrPersistence, err)
	}
	return goals, nil
}

// FindExperiment looks an experiment up by (name, goal).
func (s *PostgresStore) FindExperiment(ctx context.Context, name, goal string) (*Experiment, bool, error) {
	query := `SELECT id, name, goal, created_at FROM experiments WHERE name = $1 AND goal = $2`

	var x Experiment
	err := s.db.QueryRow(ctx, query, name, goal).Scan(&x.ID, &x.Name, &x.Goal, &x.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to find experiment: %w", ErrPersistence, err)
	}
	return &x, true, nil
}

// FindOrCreateExperiment upserts the experiment row (first write creates, later calls reuse).
func (s *PostgresStore) FindOrCreateExperiment(ctx context.Context, name, goal string) (*Experiment, error) {
	query := `
		INSERT INTO experiments (name, goal)
		VALUES ($1, $2)
		ON CONFLICT (name, goal) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, goal, created_at
	`

	var x Experiment
	if err := s.db.QueryRow(ctx, query, name, goal).Scan(&x.ID, &x.Name, &x.Goal, &x.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: failed to find or create experiment: %w", ErrPersistence, err)
	}
	return &x, nil
}

// CountExperimentValues groups the experiment's events by value.
// Ordering by MIN(id) keeps tie-breaking stable: the value that fired first sorts first.
func (s *PostgresStore) CountExperimentValues(ctx context.Context, experimentID int64) ([]ValueCount, error) {
	query := `
		SELECT value, COUNT(*) AS fired
		FROM events
		WHERE experiment_id = $1
		GROUP BY value
		ORDER BY MIN(id)
	`

	rows, err := s.db.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count experiment values: %w", ErrPersistence, err)
	}
	defer rows.Close()

	counts := make([]ValueCount, 0)
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan value count: %w", ErrPersistence, err)
		}
		counts = append(counts, vc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration error: %w", ErrPersistence, err)
	}
	return counts, nil
}

// CreateEvent inserts an event. A unique_violation on (instance_id, name) maps to ErrDuplicateEvent.
func (s *PostgresStore) CreateEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (instance_id, experiment_id, name, value)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query, e.InstanceID, e.ExperimentID, e.Name, e.Value).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("event %q for instance %d: %w", e.Name, e.InstanceID, ErrDuplicateEvent)
		}
		return fmt.Errorf("%w: failed to insert event: %w", ErrPersistence, err)
	}
	return nil
}

// CreateGoal appends a goal row.
func (s *PostgresStore) CreateGoal(ctx context.Context, g *Goal) error {
	query := `
		INSERT INTO goals (instance_id, goal, value)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	if err := s.db.QueryRow(ctx, query, g.InstanceID, g.Goal, g.Value).Scan(&g.ID, &g.CreatedAt); err != nil {
		return fmt.Errorf("%w: failed to insert goal: %w", ErrPersistence, err)
	}
	return nil
}
