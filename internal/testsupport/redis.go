package testsupport

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/norns/internal/cache"
	"github.com/rafaeljc/norns/internal/config"
)

// RedisContainer is a Redis instance with a client and a tag store on it.
type RedisContainer struct {
	Container testcontainers.Container
	Client    *goredis.Client
	Store     *cache.RedisStore
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Store.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer runs redis:7-alpine and connects through cache.NewRedisClient.
// Keys use cache.DefaultKeyPrefix.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	ctr, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("invalid redis endpoint %q: %w", endpoint, err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		Host:           host,
		Port:           port,
		KeyPrefix:      cache.DefaultKeyPrefix,
		PoolSize:       10,
		PingMaxRetries: 5,
		PingBackoff:    time.Second,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: ctr,
		Client:    client,
		Store:     cache.NewRedisStore(client, cache.DefaultKeyPrefix),
	}, nil
}
