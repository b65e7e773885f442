package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Default Redis lock settings
const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
	DefaultKeyPrefix  = "sqlbox:lock:"
)

// Noop grants every lock immediately.
type Noop struct{}

// Lock implements sandbox.Locker.
func (Noop) Lock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease lock on a single Redis key per name.
type Redis struct {
	client     redis.Cmdable
	logger     *zap.Logger
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
}

// Option configures a Redis lock.
type Option func(*Redis)

// WithTTL sets how long a lock survives a holder that never releases it.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// WithKeyPrefix sets the prefix prepended to every lock name.
func WithKeyPrefix(prefix string) Option {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a Redis lock on client.
func NewRedis(client redis.Cmdable, logger *zap.Logger, opts ...Option) *Redis {
	r := &Redis{
		client:     client,
		logger:     logger,
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
		prefix:     DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock blocks until name is held or ctx ends. The returned function releases
// the lock if it is still ours.
func (r *Redis) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	key := r.prefix + name
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, name, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}

		r.logger.Debug("Lock busy, waiting", zap.String("key", key))
		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, name, ctx.Err())
		case <-timer.C:
		}
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		if n == 0 {
			r.logger.Warn("Lock expired before release", zap.String("key", key))
		}
		return nil
	}, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
