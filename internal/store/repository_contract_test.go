package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/store"
)

// runRepositoryContract exercises the behavior every Repository backend must share.
// Scenarios run sequentially against the same database; prefix keeps their rows apart.
func runRepositoryContract(t *testing.T, repo store.Repository, prefix string) {
	ctx := context.Background()
	name := func(s string) string { return fmt.Sprintf("%s-%s", prefix, s) }

	t.Run("FindOrCreateInstance_Should_Be_Idempotent_Per_Token", func(t *testing.T) {
		// Act
		first, err := repo.FindOrCreateInstance(ctx, name("token-a"))
		require.NoError(t, err)
		second, err := repo.FindOrCreateInstance(ctx, name("token-a"))
		require.NoError(t, err)
		other, err := repo.FindOrCreateInstance(ctx, name("token-b"))
		require.NoError(t, err)

		// Assert
		assert.NotZero(t, first.ID)
		assert.Equal(t, first.ID, second.ID, "same token must resolve to the same instance")
		assert.NotEqual(t, first.ID, other.ID)
		assert.Equal(t, name("token-a"), first.Token)
		assert.Empty(t, first.ClientAddress)
		assert.WithinDuration(t, time.Now(), first.CreatedAt, time.Minute)
	})

	t.Run("UpdateInstanceAddress_Should_Persist_Address", func(t *testing.T) {
		// Arrange
		inst, err := repo.FindOrCreateInstance(ctx, name("token-addr"))
		require.NoError(t, err)

		// Act
		err = repo.UpdateInstanceAddress(ctx, inst.ID, "203.0.113.7")
		require.NoError(t, err)

		// Assert
		reloaded, err := repo.FindOrCreateInstance(ctx, name("token-addr"))
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.7", reloaded.ClientAddress)
	})

	t.Run("UpdateInstanceAddress_Should_Fail_For_Unknown_Instance", func(t *testing.T) {
		err := repo.UpdateInstanceAddress(ctx, 987654321, "203.0.113.7")
		assert.ErrorIs(t, err, store.ErrPersistence)
	})

	t.Run("FindExperiment_Should_Report_Not_Found", func(t *testing.T) {
		x, found, err := repo.FindExperiment(ctx, name("missing"), "")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, x)
	})

	t.Run("FindOrCreateExperiment_Should_Key_On_Name_And_Goal", func(t *testing.T) {
		// Act
		a, err := repo.FindOrCreateExperiment(ctx, name("headline"), "signup")
		require.NoError(t, err)
		again, err := repo.FindOrCreateExperiment(ctx, name("headline"), "signup")
		require.NoError(t, err)
		otherGoal, err := repo.FindOrCreateExperiment(ctx, name("headline"), "purchase")
		require.NoError(t, err)

		// Assert
		assert.Equal(t, a.ID, again.ID)
		assert.NotEqual(t, a.ID, otherGoal.ID)

		found, ok, err := repo.FindExperiment(ctx, name("headline"), "signup")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.ID, found.ID)
		assert.Equal(t, "signup", found.Goal)
	})

	t.Run("CreateEvent_Should_Reject_Second_Event_For_Same_Name", func(t *testing.T) {
		// Arrange
		inst, err := repo.FindOrCreateInstance(ctx, name("token-dup"))
		require.NoError(t, err)
		x, err := repo.FindOrCreateExperiment(ctx, name("dup"), "")
		require.NoError(t, err)

		first := &store.Event{InstanceID: inst.ID, ExperimentID: x.ID, Name: name("dup"), Value: "red"}
		second := &store.Event{InstanceID: inst.ID, ExperimentID: x.ID, Name: name("dup"), Value: "blue"}

		// Act
		require.NoError(t, repo.CreateEvent(ctx, first))
		err = repo.CreateEvent(ctx, second)

		// Assert
		assert.NotZero(t, first.ID)
		assert.ErrorIs(t, err, store.ErrDuplicateEvent)
		assert.False(t, errors.Is(err, store.ErrPersistence), "duplicate is not a persistence failure")

		stored, found, err := repo.FindInstanceEvent(ctx, inst.ID, name("dup"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "red", stored.Value, "the first event must win")
		assert.Equal(t, first.ID, stored.ID)
	})

	t.Run("FindInstanceEvent_Should_Report_Not_Found", func(t *testing.T) {
		inst, err := repo.FindOrCreateInstance(ctx, name("token-none"))
		require.NoError(t, err)

		e, found, err := repo.FindInstanceEvent(ctx, inst.ID, name("never"))
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, e)
	})

	t.Run("CountExperimentValues_Should_Order_By_First_Appearance", func(t *testing.T) {
		// Arrange
		x, err := repo.FindOrCreateExperiment(ctx, name("counts"), "")
		require.NoError(t, err)

		values := []string{"green", "amber", "green", "green", "amber", "blue"}
		for i, v := range values {
			inst, err := repo.FindOrCreateInstance(ctx, name(fmt.Sprintf("count-%d", i)))
			require.NoError(t, err)
			require.NoError(t, repo.CreateEvent(ctx, &store.Event{
				InstanceID: inst.ID, ExperimentID: x.ID, Name: name("counts"), Value: v,
			}))
		}

		// Act
		counts, err := repo.CountExperimentValues(ctx, x.ID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []store.ValueCount{
			{Value: "green", Count: 3},
			{Value: "amber", Count: 2},
			{Value: "blue", Count: 1},
		}, counts)
	})

	t.Run("CountExperimentValues_Should_Return_Empty_For_Unused_Experiment", func(t *testing.T) {
		x, err := repo.FindOrCreateExperiment(ctx, name("unused"), "")
		require.NoError(t, err)

		counts, err := repo.CountExperimentValues(ctx, x.ID)
		require.NoError(t, err)
		assert.Empty(t, counts)
	})

	t.Run("ListInstanceEvents_Should_Return_Events_In_Creation_Order", func(t *testing.T) {
		// Arrange
		inst, err := repo.FindOrCreateInstance(ctx, name("token-list"))
		require.NoError(t, err)
		for _, exp := range []string{"first", "second"} {
			x, err := repo.FindOrCreateExperiment(ctx, name(exp), "")
			require.NoError(t, err)
			require.NoError(t, repo.CreateEvent(ctx, &store.Event{
				InstanceID: inst.ID, ExperimentID: x.ID, Name: name(exp), Value: exp + "-value",
			}))
		}

		// Act
		events, err := repo.ListInstanceEvents(ctx, inst.ID)

		// Assert
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, name("first"), events[0].Name)
		assert.Equal(t, "second-value", events[1].Value)
	})

	t.Run("CreateGoal_Should_Append_With_Optional_Value", func(t *testing.T) {
		// Arrange
		inst, err := repo.FindOrCreateInstance(ctx, name("token-goal"))
		require.NoError(t, err)
		amount := "49.90"

		// Act
		require.NoError(t, repo.CreateGoal(ctx, &store.Goal{InstanceID: inst.ID, Goal: "signup"}))
		require.NoError(t, repo.CreateGoal(ctx, &store.Goal{InstanceID: inst.ID, Goal: "purchase", Value: &amount}))
		require.NoError(t, repo.CreateGoal(ctx, &store.Goal{InstanceID: inst.ID, Goal: "signup"}))

		// Assert
		goals, err := repo.ListInstanceGoals(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, goals, 3, "goals are append-only, repeats are kept")
		assert.Nil(t, goals[0].Value)
		require.NotNil(t, goals[1].Value)
		assert.Equal(t, "49.90", *goals[1].Value)
		assert.Equal(t, "signup", goals[2].Goal)
	})
}
