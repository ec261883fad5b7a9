package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewRedisCacheBackendWithClient(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	b := NewRedisCacheBackendWithClient(client, "")
	assert.Equal(t, "mobilesync:cache:analytics:risk", b.key("analytics:risk"))

	custom := NewRedisCacheBackendWithClient(client, "dev:")
	assert.Equal(t, "dev:k", custom.key("k"))
}

func TestRedisCacheBackend_ConnectionErrors(t *testing.T) {
	b := NewRedisCacheBackendWithClient(unreachableClient(), "")
	defer b.Close()
	ctx := context.Background()

	err := b.Set(ctx, "k", []byte("v"), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set cache key")

	err = b.Set(ctx, "k", []byte("v"), -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to expire cache key")

	_, ok, err := b.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisCacheBackend_Unreachable(t *testing.T) {
	_, err := NewRedisCacheBackend(RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
