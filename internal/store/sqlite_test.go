package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/testsupport"
)

func TestSQLiteStore_Repository(t *testing.T) {
	runRepositoryContract(t, testsupport.NewSQLiteStore(t), "sqlite")
}

func TestNewSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should_Reject_Empty_Path", func(t *testing.T) {
		s, err := store.NewSQLiteStore(ctx, "")
		assert.Nil(t, s)
		assert.ErrorIs(t, err, store.ErrPersistence)
	})

	t.Run("Should_Persist_Records_Across_Reopen", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "norns.db")

		s, err := store.NewSQLiteStore(ctx, path)
		require.NoError(t, err)
		inst, err := s.FindOrCreateInstance(ctx, "persisted-token")
		require.NoError(t, err)
		require.NoError(t, s.Close())

		// Act
		reopened, err := store.NewSQLiteStore(ctx, path)
		require.NoError(t, err)
		defer reopened.Close()

		again, err := reopened.FindOrCreateInstance(ctx, "persisted-token")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, inst.ID, again.ID, "schema application must not drop existing rows")
		assert.NoError(t, reopened.Ping(ctx))
	})

	t.Run("Should_Reject_Event_For_Unknown_Instance", func(t *testing.T) {
		s := testsupport.NewSQLiteStore(t)
		x, err := s.FindOrCreateExperiment(ctx, "orphan", "")
		require.NoError(t, err)

		err = s.CreateEvent(ctx, &store.Event{InstanceID: 4242, ExperimentID: x.ID, Name: "orphan", Value: "a"})

		assert.ErrorIs(t, err, store.ErrPersistence, "foreign keys are enforced")
	})
}
