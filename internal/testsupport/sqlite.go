package testsupport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/store"
)

// NewSQLiteStore opens a private in-memory record store that is closed when the test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err, "failed to open in-memory sqlite store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close sqlite store: %v", err)
		}
	})
	return s
}
