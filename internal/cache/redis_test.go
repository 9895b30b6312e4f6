package cache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	// Key construction never touches the network.
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })

	def := NewRedisStore(client, "")
	staging := NewRedisStore(client, "norns-staging")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "tags key", got: def.tagsKey("abc123"), expected: "norns:tags:abc123"},
		{name: "principal key", got: def.principalKey("user-42"), expected: "norns:principal:user-42"},
		{name: "principal key with colon", got: def.principalKey("tenant:7"), expected: "norns:principal:tenant:7"},
		{name: "custom prefix", got: staging.tagsKey("abc123"), expected: "norns-staging:tags:abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestExperimentKey_IsUnambiguous(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, experimentKey("ab", "c"), experimentKey("a", "bc"))
	assert.Equal(t, experimentKey("hero", "signup"), experimentKey("hero", "signup"))
}

func TestRedisStore_WrapsFailures(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	require.NoError(t, client.Close())
	s := NewRedisStore(client, "")
	ctx := context.Background()

	_, err := s.IsTagged(ctx, "token", "[hero]A")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Tag(ctx, "token", "[hero]A"), ErrUnavailable)
	assert.ErrorIs(t, s.Untag(ctx, "token", "[hero]A"), ErrUnavailable)
	assert.ErrorIs(t, s.Bind(ctx, "user-1", "token"), ErrUnavailable)

	_, _, err = s.BoundToken(ctx, "user-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	t.Run("Argument errors are not availability errors", func(t *testing.T) {
		err := s.Tag(ctx, "", "[hero]A")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})
}
