package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Compile-time check to verify that SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore is the embedded implementation of Repository.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path cannot be empty", ErrPersistence)
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite database: %w", ErrPersistence, err)
	}

	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to connect to sqlite database: %w", ErrPersistence, err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply sqlite schema: %w", ErrPersistence, err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) timestamp() int64 {
	return s.now().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// isUniqueViolation detects constraint failures reported by modernc.org/sqlite.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindOrCreateInstance upserts the instance row and returns it.
func (s *SQLiteStore) FindOrCreateInstance(ctx context.Context, token string) (*Instance, error) {
	query := `
		INSERT INTO instances (token, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET token = excluded.token
		RETURNING id, token, client_address, created_at, updated_at
	`

	ts := s.timestamp()
	var (
		inst             Instance
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, query, token, ts, ts).Scan(
		&inst.ID,
		&inst.Token,
		&inst.ClientAddress,
		&created,
		&updated,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find or create instance: %w", ErrPersistence, err)
	}
	inst.CreatedAt = fromNanos(created)
	inst.UpdatedAt = fromNanos(updated)
	return &inst, nil
}

// UpdateInstanceAddress stores the client address and bumps updated_at.
func (s *SQLiteStore) UpdateInstanceAddress(ctx context.Context, instanceID int64, address string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET client_address = ?, updated_at = ? WHERE id = ?`,
		address, s.timestamp(), instanceID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update instance address: %w", ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows: %w", ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: instance %d does not exist", ErrPersistence, instanceID)
	}
	return nil
}

// FindInstanceEvent returns the event fired by the instance for the experiment name.
func (s *SQLiteStore) FindInstanceEvent(ctx context.Context, instanceID int64, name string) (*Event, bool, error) {
	query := `
		SELECT id, instance_id, experiment_id, name, value, created_at
		FROM events
		WHERE instance_id = ? AND name = ?
	`

	e, err := scanEvent(s.db.QueryRowContext(ctx, query, instanceID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to find event: %w", ErrPersistence, err)
	}
	return e, true, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e       Event
		created int64
	)
	if err := row.Scan(&e.ID, &e.InstanceID, &e.ExperimentID, &e.Name, &e.Value, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

// ListInstanceEvents returns the events of an instance ordered by ID.
func (s *SQLiteStore) ListInstanceEvents(ctx context.Context, instanceID int64) ([]*Event, error) {
	query := `
		SELECT id, instance_id, experiment_id, name, value, created_at
		FROM events
		WHERE instance_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events: %w", ErrPersistence, err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan event row: %w", ErrPersistence, err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration error: %w", ErrPersistence, err)
	}
	return events, nil
}

// ListInstanceGoals returns the goals of an instance ordered by ID.
func (s *SQLiteStore) ListInstanceGoals(ctx context.Context, instanceID int64) ([]*Goal, error) {
	query := `
		SELECT id, instance_id, goal, value, created_at
		FROM goals
		WHERE instance_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list goals: %w", ErrPersistence, err)
	}
	defer rows.Close()

	goals := make([]*Goal, 0)
	for rows.Next() {
		var (
			g       Goal
			value   sql.NullString
			created int64
		)
		if err := rows.Scan(&g.ID, &g.InstanceID, &g.Goal, &value, &created); err != nil {
			return nil, fmt.Errorf("%w: failed to scan goal row: %w", ErrPersistence, err)
		}
		if value.Valid {
			v := value.String
			g.Value = &v
		}
		g.CreatedAt = fromNanos(created)
		goals = append(goals, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration error: %w", ErrPersistence, err)
	}
	return goals, nil
}

// FindExperiment looks an experiment up by (name, goal).
func (s *SQLiteStore) FindExperiment(ctx context.Context, name, goal string) (*Experiment, bool, error) {
	var (
		x       Experiment
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, goal, created_at FROM experiments WHERE name = ? AND goal = ?`,
		name, goal,
	).Scan(&x.ID, &x.Name, &x.Goal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to find experiment: %w", ErrPersistence, err)
	}
	x.CreatedAt = fromNanos(created)
	return &x, true, nil
}

// FindOrCreateExperiment upserts the experiment row.
func (s *SQLiteStore) FindOrCreateExperiment(ctx context.Context, name, goal string) (*Experiment, error) {
	query := `
		INSERT INTO experiments (name, goal, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name, goal) DO UPDATE SET name = excluded.name
		RETURNING id, name, goal, created_at
	`

	var (
		x       Experiment
		created int64
	)
	if err := s.db.QueryRowContext(ctx, query, name, goal, s.timestamp()).Scan(&x.ID, &x.Name, &x.Goal, &created); err != nil {
		return nil, fmt.Errorf("%w: failed to find or create experiment: %w", ErrPersistence, err)
	}
	x.CreatedAt = fromNanos(created)
	return &x, nil
}

// CountExperimentValues groups the experiment's events by value, first appearance first.
func (s *SQLiteStore) CountExperimentValues(ctx context.Context, experimentID int64) ([]ValueCount, error) {
	query := `
		SELECT value, COUNT(*) AS fired
		FROM events
		WHERE experiment_id = ?
		GROUP BY value
		ORDER BY MIN(id)
	`

	rows, err := s.db.QueryContext(ctx, query, experimentID)
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

// CreateEvent inserts an event. A UNIQUE failure on (instance_id, name) maps to ErrDuplicateEvent.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *Event) error {
	ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (instance_id, experiment_id, name, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.InstanceID, e.ExperimentID, e.Name, e.Value, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %q for instance %d: %w", e.Name, e.InstanceID, ErrDuplicateEvent)
		}
		return fmt.Errorf("%w: failed to insert event: %w", ErrPersistence, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: failed to read event id: %w", ErrPersistence, err)
	}
	e.ID = id
	e.CreatedAt = fromNanos(ts)
	return nil
}

// CreateGoal appends a goal row.
func (s *SQLiteStore) CreateGoal(ctx context.Context, g *Goal) error {
	ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (instance_id, goal, value, created_at) VALUES (?, ?, ?, ?)`,
		g.InstanceID, g.Goal, g.Value, ts,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert goal: %w", ErrPersistence, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: failed to read goal id: %w", ErrPersistence, err)
	}
	g.ID = id
	g.CreatedAt = fromNanos(ts)
	return nil
}
