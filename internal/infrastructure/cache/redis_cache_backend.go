package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "mobilesync:cache:"

// RedisCacheBackend keeps the local store's advisory cache in Redis, which
// expires entries natively.
type RedisCacheBackend struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisCacheBackend connects to Redis and verifies the connection
func NewRedisCacheBackend(cfg RedisConfig) (*RedisCacheBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheBackendWithClient creates a backend with an existing client
func NewRedisCacheBackendWithClient(client *redis.Client, keyPrefix string) *RedisCacheBackend {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisCacheBackend{client: client, keyPrefix: keyPrefix}
}

func (b *RedisCacheBackend) key(k string) string {
	return b.keyPrefix + k
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (b *RedisCacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
			return fmt.Errorf("failed to expire cache key: %w", err)
		}
		return nil
	}
	if err := b.client.Set(ctx, b.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Get returns the value and whether it was present
func (b *RedisCacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache key: %w", err)
	}
	return v, true, nil
}

// Close closes the Redis client
func (b *RedisCacheBackend) Close() error {
	return b.client.Close()
}
