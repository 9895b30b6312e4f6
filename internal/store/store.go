// Package store provides the Data Access Layer (Repository) for experiment records.
// It defines the four record kinds (Instance, Experiment, Event, Goal) and two backends:
// PostgreSQL via pgx and an embedded SQLite database.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersistence wraps every failure of the underlying database.
	// Callers surface it; the store never retries internally.
	ErrPersistence = errors.New("store: persistence failure")

	// ErrDuplicateEvent is returned by CreateEvent when the instance already has an
	// event for the experiment name. It is an expected outcome under concurrent cycles.
	ErrDuplicateEvent = errors.New("store: event already recorded for instance and experiment")
)

// Instance is one visitor identity. It mirrors the 'instances' table.
type Instance struct {
	ID            int64     `db:"id"`
	Token         string    `db:"token"`
	ClientAddress string    `db:"client_address"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Experiment is a named test paired with the goal it measures.
type Experiment struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Goal      string    `db:"goal"`
	CreatedAt time.Time `db:"created_at"`
}

// Event records which condition fired for an instance. Immutable once created.
type Event struct {
	ID           int64     `db:"id"`
	InstanceID   int64     `db:"instance_id"`
	ExperimentID int64     `db:"experiment_id"`
	Name         string    `db:"name"`
	Value        string    `db:"value"`
	CreatedAt    time.Time `db:"created_at"`
}

// Goal is a milestone reached by an instance. Value is optional.
type Goal struct {
	ID         int64     `db:"id"`
	InstanceID int64     `db:"instance_id"`
	Goal       string    `db:"goal"`
	Value      *string   `db:"value"`
	CreatedAt  time.Time `db:"created_at"`
}

// ValueCount is the number of events that fired a given condition value.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Repository defines the persistence operations the experiment core depends on.
// Lookups that find nothing return found=false with a nil error.
type Repository interface {
	// FindOrCreateInstance returns the instance bound to token, creating it on first contact.
	FindOrCreateInstance(ctx context.Context, token string) (*Instance, error)

	// UpdateInstanceAddress stores the last known client address of an instance.
	UpdateInstanceAddress(ctx context.Context, instanceID int64, address string) error

	// FindInstanceEvent returns the event the instance fired for the experiment name.
	FindInstanceEvent(ctx context.Context, instanceID int64, name string) (*Event, bool, error)

	// ListInstanceEvents returns every event of an instance ordered by creation.
	ListInstanceEvents(ctx context.Context, instanceID int64) ([]*Event, error)

	// ListInstanceGoals returns every goal of an instance ordered by creation.
	ListInstanceGoals(ctx context.Context, instanceID int64) ([]*Goal, error)

	// FindExperiment looks an experiment up by its natural key.
	FindExperiment(ctx context.Context, name, goal string) (*Experiment, bool, error)

	// FindOrCreateExperiment returns the experiment for (name, goal), creating it if needed.
	FindOrCreateExperiment(ctx context.Context, name, goal string) (*Experiment, error)

	// CountExperimentValues aggregates the events of an experiment per fired value,
	// ordered by the first appearance of each value.
	CountExperimentValues(ctx context.Context, experimentID int64) ([]ValueCount, error)

	// CreateEvent inserts an event and populates its ID and CreatedAt.
	// It returns ErrDuplicateEvent if (InstanceID, Name) already exists.
	CreateEvent(ctx context.Context, e *Event) error

	// CreateGoal appends a goal and populates its ID and CreatedAt.
	CreateGoal(ctx context.Context, g *Goal) error
}
