package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "shopchat:session:"
	socketKeyPrefix  = "shopchat:socket:"
	defaultTTL       = 24 * time.Hour
)

// unbindIfOwner deletes a session binding only while it still points at the socket being
// unbound, so a reconnect that already rebound the session is left alone.
var unbindIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry stores bindings in redis so several gateway replicas can share them.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Bind(ctx context.Context, sessionID string, socketID string) error {
	socketKey := socketKeyPrefix + socketID
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+sessionID, socketID, r.ttl)
		pipe.SAdd(ctx, socketKey, sessionID)
		pipe.Expire(ctx, socketKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bind session %s: %w", sessionID, err)
	}
	return nil
}

// Lookup refreshes the binding's TTL on every hit.
func (r *RedisRegistry) Lookup(ctx context.Context, sessionID string) (string, bool, error) {
	key := sessionKeyPrefix + sessionID
	socketID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}

	_ = r.client.Expire(ctx, key, r.ttl).Err()
	return socketID, true, nil
}

func (r *RedisRegistry) UnbindSocket(ctx context.Context, socketID string) error {
	socketKey := socketKeyPrefix + socketID
	sessions, err := r.client.SMembers(ctx, socketKey).Result()
	if err != nil {
		return fmt.Errorf("list sessions of socket %s: %w", socketID, err)
	}

	for _, sessionID := range sessions {
		if err := unbindIfOwner.Run(ctx, r.client, []string{sessionKeyPrefix + sessionID}, socketID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("unbind session %s: %w", sessionID, err)
		}
	}

	if err := r.client.Del(ctx, socketKey).Err(); err != nil {
		return fmt.Errorf("delete socket %s: %w", socketID, err)
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
