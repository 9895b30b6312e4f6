// Package cache provides the Redis-backed tag and principal store and the in-memory
// experiment cache for the Norns service.
// It handles key namespacing and connection management.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/norns/internal/validation"
)

// ErrUnavailable wraps every failed Redis command.
var ErrUnavailable = errors.New("cache: redis unavailable")

const (
	// DefaultKeyPrefix is used when NewRedisStore receives an empty prefix.
	DefaultKeyPrefix = "norns"

	tagsSegment      = "tags"
	principalSegment = "principal"
)

// RedisStore keeps sticky tags and principal bindings in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an initialized Redis client. Every key starts with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	validation.AssertNotNil(client, "cache: redis client")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// tagsKey is the set of sticky tags of an identity token.
// Example: "norns:tags:5f9c...".
func (s *RedisStore) tagsKey(token string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, tagsSegment, token)
}

// principalKey maps an authenticated principal to its bound identity token.
// Example: "norns:principal:user-42".
func (s *RedisStore) principalKey(principalID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, principalSegment, principalID)
}

// IsTagged reports whether the identity carries tag (SISMEMBER).
func (s *RedisStore) IsTagged(ctx context.Context, token, tag string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.tagsKey(token), tag).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check tag %q: %w: %w", tag, ErrUnavailable, err)
	}
	return ok, nil
}

// Tag adds tag to the identity (SADD). Tagging twice is a no-op.
func (s *RedisStore) Tag(ctx context.Context, token, tag string) error {
	if token == "" || tag == "" {
		return errors.New("token and tag cannot be empty")
	}
	if err := s.client.SAdd(ctx, s.tagsKey(token), tag).Err(); err != nil {
		return fmt.Errorf("failed to tag identity: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Untag removes tag from the identity (SREM).
func (s *RedisStore) Untag(ctx context.Context, token, tag string) error {
	if err := s.client.SRem(ctx, s.tagsKey(token), tag).Err(); err != nil {
		return fmt.Errorf("failed to untag identity: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// BoundToken returns the identity token bound to a principal.
// A missing binding is reported as found=false without error.
func (s *RedisStore) BoundToken(ctx context.Context, principalID string) (string, bool, error) {
	token, err := s.client.Get(ctx, s.principalKey(principalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read principal binding: %w: %w", ErrUnavailable, err)
	}
	return token, true, nil
}

// Bind associates a principal with an identity token, replacing any earlier binding.
// Bindings do not expire.
func (s *RedisStore) Bind(ctx context.Context, principalID, token string) error {
	if principalID == "" || token == "" {
		return errors.New("principal and token cannot be empty")
	}
	if err := s.client.Set(ctx, s.principalKey(principalID), token, 0).Err(); err != nil {
		return fmt.Errorf("failed to bind principal: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
