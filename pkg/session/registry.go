package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"shopchat/pkg/config"
)

// DriverType selects the registry backend.
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

var (
	ErrInvalidConfig = errors.New("invalid session registry configuration")
	ErrInvalidDriver = errors.New("invalid session registry driver")
)

// Registry maps conversation session ids to the socket currently serving them.
// A session has at most one live socket; binding it again replaces the previous socket.
type Registry interface {
	// Bind points sessionID at socketID.
	Bind(ctx context.Context, sessionID string, socketID string) error

	// Lookup returns the socket bound to sessionID. ok is false when none is bound.
	Lookup(ctx context.Context, sessionID string) (socketID string, ok bool, err error)

	// UnbindSocket removes every binding that points at socketID.
	UnbindSocket(ctx context.Context, socketID string) error

	// Close releases backend resources.
	Close() error
}

// Option configures NewRegistry.
type Option func(*options)

type options struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// WithRedisClient supplies the client for the redis driver instead of dialing from config.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithTTL sets how long redis bindings live without being refreshed.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// NewRegistry builds the registry selected by cfg.Driver.
func NewRegistry(cfg config.SessionsConfig, opts ...Option) (Registry, error) {
	o := &options{ttl: time.Duration(cfg.TTLSeconds) * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	driver := DriverType(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemoryRegistry(), nil
	case DriverRedis:
		client := o.redisClient
		if client == nil {
			if strings.TrimSpace(cfg.RedisAddr) == "" {
				return nil, fmt.Errorf("%w: sessions.redis_addr is required", ErrInvalidConfig)
			}
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
		}
		return NewRedisRegistry(client, o.ttl), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}
