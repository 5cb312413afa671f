/*
Package redislock provides the cross-process billing generation lock.

PURPOSE:
  Serializes billing generation for one (benefit type, window) across
  server replicas and the scheduler. The database unique index already
  prevents duplicate records; the lock keeps two processes from claiming
  queue items for the same window at once and reports the loser as
  "generation in progress" instead of a wall of duplicate skips.

PROTOCOL:
  Acquire: SET key token NX PX ttl
  Release: compare-and-delete in Lua, so an expired lock that another
           process re-acquired is never deleted by the old holder.

USAGE:
  client := redislock.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
  orchestrator.Locker = redislock.New(client, 2*time.Minute)

SEE ALSO:
  - billing/orchestrator.go: Locker interface
*/
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/warp/housing-benefits/generic"
)

// DefaultTTL bounds how long a crashed holder can block a window.
const DefaultTTL = 2 * time.Minute

const keyPrefix = "housing-benefits:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Locker implements billing.Locker on Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the lock or fails with generic.ErrGenerationInProgress.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, generic.ErrGenerationInProgress)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// Ping tests the Redis connection.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
