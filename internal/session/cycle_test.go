package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/session"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/testsupport"
)

// failingRepo embeds a working repository and overrides CreateEvent.
type failingRepo struct {
	store.Repository
	createErr error
}

func (r *failingRepo) CreateEvent(ctx context.Context, e *store.Event) error {
	return r.createErr
}

func newResolvedCycle(t *testing.T, repo store.Repository, token string) *session.Cycle {
	t.Helper()
	inst, err := repo.FindOrCreateInstance(context.Background(), token)
	require.NoError(t, err)

	c := session.NewCycle(token, "198.51.100.1", "")
	c.SetInstance(inst)
	return c
}

func TestCycle_Record(t *testing.T) {
	t.Parallel()

	t.Run("Should_Keep_First_Registration_Order_And_Last_Write", func(t *testing.T) {
		t.Parallel()
		c := session.NewCycle("", "", "")

		c.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceRandom})
		c.Record(session.Decision{Experiment: "footer", Value: "x", Source: session.SourceRandom})
		c.Record(session.Decision{Experiment: "hero", Value: "b", Source: session.SourceRandom})

		decisions := c.Decisions()
		require.Len(t, decisions, 2)
		assert.Equal(t, "hero", decisions[0].Experiment)
		assert.Equal(t, "b", decisions[0].Value, "last write per experiment wins")
		assert.Equal(t, "footer", decisions[1].Experiment)

		d, ok := c.Pending("hero")
		assert.True(t, ok)
		assert.Equal(t, "b", d.Value)

		_, ok = c.Pending("missing")
		assert.False(t, ok)
	})

	t.Run("Token_Should_Be_Empty_Until_Identity_Resolved", func(t *testing.T) {
		t.Parallel()
		c := session.NewCycle("presented", "", "")
		assert.Empty(t, c.Token())
		assert.Equal(t, "presented", c.ExistingToken())

		c.SetInstance(&store.Instance{ID: 1, Token: "resolved"})
		assert.Equal(t, "resolved", c.Token())
	})
}

func TestCycle_Flush(t *testing.T) {
	ctx := context.Background()

	t.Run("Should_Be_NoOp_Without_Pending_Decisions", func(t *testing.T) {
		repo := testsupport.NewSQLiteStore(t)
		c := newResolvedCycle(t, repo, "noop-token")

		res, err := c.Flush(ctx, repo)

		require.NoError(t, err)
		assert.Equal(t, "noop-token", res.Token)
		assert.Zero(t, res.Written)
	})

	t.Run("Should_Return_Empty_Token_When_Nothing_Resolved", func(t *testing.T) {
		repo := testsupport.NewSQLiteStore(t)
		c := session.NewCycle("", "", "")

		res, err := c.Flush(ctx, repo)

		require.NoError(t, err)
		assert.Empty(t, res.Token)
	})

	t.Run("Should_Fail_When_Decisions_Have_No_Identity", func(t *testing.T) {
		repo := testsupport.NewSQLiteStore(t)
		c := session.NewCycle("", "", "")
		c.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceRandom})

		_, err := c.Flush(ctx, repo)

		assert.Error(t, err)
		assert.Len(t, c.Decisions(), 1)
	})

	t.Run("Should_Write_Events_And_Clear_Pending", func(t *testing.T) {
		// Arrange
		repo := testsupport.NewSQLiteStore(t)
		c := newResolvedCycle(t, repo, "write-token")
		c.Record(session.Decision{Experiment: "hero", Goal: "signup", Value: "a", Source: session.SourceRandom})
		c.Record(session.Decision{Experiment: "footer", Value: "x", Source: session.SourceSticky})

		// Act
		res, err := c.Flush(ctx, repo)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, res.Written)
		assert.Empty(t, c.Decisions())

		events, err := repo.ListInstanceEvents(ctx, c.Instance().ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "hero", events[0].Name)
		assert.Equal(t, "a", events[0].Value)

		x, found, err := repo.FindExperiment(ctx, "hero", "signup")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, x.ID, events[0].ExperimentID)
	})

	t.Run("Should_Skip_Decisions_Replayed_From_Storage", func(t *testing.T) {
		repo := testsupport.NewSQLiteStore(t)
		c := newResolvedCycle(t, repo, "skip-token")
		c.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceReplay})

		res, err := c.Flush(ctx, repo)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.Zero(t, res.Written)

		events, err := repo.ListInstanceEvents(ctx, c.Instance().ID)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("Should_Adopt_Stored_Value_On_Concurrent_Write", func(t *testing.T) {
		// Arrange: another cycle for the same identity wins the race.
		repo := testsupport.NewSQLiteStore(t)
		winner := newResolvedCycle(t, repo, "race-token")
		loser := newResolvedCycle(t, repo, "race-token")

		winner.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceRandom})
		loser.Record(session.Decision{Experiment: "hero", Value: "b", Source: session.SourceRandom})

		_, err := winner.Flush(ctx, repo)
		require.NoError(t, err)

		// Act
		res, err := loser.Flush(ctx, repo)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, res.Conflicts)
		require.Len(t, res.Adopted, 1)
		assert.Equal(t, "a", res.Adopted[0].Value)
		assert.Equal(t, session.SourceReplay, res.Adopted[0].Source)

		events, err := repo.ListInstanceEvents(ctx, winner.Instance().ID)
		require.NoError(t, err)
		assert.Len(t, events, 1, "at most one event per instance and experiment")
	})

	t.Run("Should_Keep_Pending_On_Persistence_Failure", func(t *testing.T) {
		base := testsupport.NewSQLiteStore(t)
		repo := &failingRepo{Repository: base, createErr: store.ErrPersistence}
		c := newResolvedCycle(t, base, "fail-token")
		c.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceRandom})

		_, err := c.Flush(ctx, repo)

		assert.True(t, errors.Is(err, store.ErrPersistence))
		assert.Len(t, c.Decisions(), 1)
	})

	t.Run("Flush_Then_Reset_Should_Leave_Nothing_To_Write", func(t *testing.T) {
		repo := testsupport.NewSQLiteStore(t)
		c := newResolvedCycle(t, repo, "twice-token")
		c.Record(session.Decision{Experiment: "hero", Value: "a", Source: session.SourceRandom})

		first, err := c.Flush(ctx, repo)
		require.NoError(t, err)
		second, err := c.Flush(ctx, repo)
		require.NoError(t, err)

		assert.Equal(t, 1, first.Written)
		assert.Zero(t, second.Written)
		assert.Zero(t, second.Conflicts)
	})
}

func TestContext(t *testing.T) {
	t.Parallel()

	_, ok := session.FromContext(context.Background())
	assert.False(t, ok)

	c := session.NewCycle("", "", "")
	got, ok := session.FromContext(session.WithCycle(context.Background(), c))
	assert.True(t, ok)
	assert.Same(t, c, got)
}
