package schedule

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultGuardTTL is how long a consumed idempotency key stays reserved.
const DefaultGuardTTL = 10 * time.Minute

// Guard reserves idempotency keys on the consumer side of an at-least-once
// queue. Acquire reports false when the key was already taken. Release
// gives a key back after the run behind it could not be stored.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// GuardClient is the slice of the go-redis client RedisGuard needs.
type GuardClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard reserves keys with SET NX and a TTL.
type RedisGuard struct {
	client GuardClient
	prefix string
	ttl    time.Duration
}

// GuardOption configures a RedisGuard.
type GuardOption func(*RedisGuard)

// WithKeyPrefix namespaces guard keys.
func WithKeyPrefix(prefix string) GuardOption {
	return func(g *RedisGuard) {
		g.prefix = prefix
	}
}

// WithTTL sets how long keys stay reserved.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *RedisGuard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// NewRedisGuard returns a guard backed by client, usually a *redis.Client.
func NewRedisGuard(client GuardClient, opts ...GuardOption) *RedisGuard {
	g := &RedisGuard{
		client: client,
		prefix: "groundcheck:idem:",
		ttl:    DefaultGuardTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}
