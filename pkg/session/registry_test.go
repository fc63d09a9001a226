package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"shopchat/pkg/config"
)

func TestNewRegistryDrivers(t *testing.T) {
	registry, err := NewRegistry(config.SessionsConfig{})
	if err != nil {
		t.Fatalf("NewRegistry default error: %v", err)
	}
	if _, ok := registry.(*MemoryRegistry); !ok {
		t.Fatalf("default registry = %T, want *MemoryRegistry", registry)
	}

	if _, err := NewRegistry(config.SessionsConfig{Driver: "redis"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("redis without addr error = %v, want ErrInvalidConfig", err)
	}

	if _, err := NewRegistry(config.SessionsConfig{Driver: "etcd"}); !errors.Is(err, ErrInvalidDriver) {
		t.Fatalf("unknown driver error = %v, want ErrInvalidDriver", err)
	}

	redisRegistry, err := NewRegistry(config.SessionsConfig{Driver: "Redis", RedisAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewRegistry redis error: %v", err)
	}
	t.Cleanup(func() { _ = redisRegistry.Close() })
	if _, ok := redisRegistry.(*RedisRegistry); !ok {
		t.Fatalf("redis registry = %T, want *RedisRegistry", redisRegistry)
	}
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemoryRegistry())
}

// TestRedisRegistry runs against a real server when SHOPCHAT_TEST_REDIS_ADDR is set.
func TestRedisRegistry(t *testing.T) {
	addr := os.Getenv("SHOPCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHOPCHAT_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	registry := NewRedisRegistry(client, time.Minute)
	t.Cleanup(func() { _ = registry.Close() })
	exerciseRegistry(t, registry)
}

func exerciseRegistry(t *testing.T, registry Registry) {
	t.Helper()
	ctx := context.Background()

	// Unique ids keep runs against a shared redis independent.
	prefix := uuid.NewString()
	session := prefix + "-session"
	first := prefix + "-sid-1"
	second := prefix + "-sid-2"

	_, ok, err := registry.Lookup(ctx, session)
	require.NoError(t, err)
	require.False(t, ok, "lookup before bind")

	require.NoError(t, registry.Bind(ctx, session, first))
	got, ok, err := registry.Lookup(ctx, session)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	// Reconnect: the session moves to a new socket; unbinding the stale socket keeps it.
	require.NoError(t, registry.Bind(ctx, session, second))
	require.NoError(t, registry.UnbindSocket(ctx, first))
	got, ok, err = registry.Lookup(ctx, session)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, got)

	require.NoError(t, registry.UnbindSocket(ctx, second))
	_, ok, err = registry.Lookup(ctx, session)
	require.NoError(t, err)
	require.False(t, ok, "lookup after unbind")
}
