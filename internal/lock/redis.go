// Package lock provides a Redis-backed start lock shared by several
// dispatcher processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/correlate/internal/dispatch"
)

// ErrLockLost is returned by release when the lock expired and was taken
// by another holder before it was released.
var ErrLockLost = errors.New("start lock lost before release")

// Defaults for NewRedisLocker.
const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultPrefix        = "correlate:start-lock:"
)

// releaseScript deletes KEYS[1] only while it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements dispatch.StartLocker with SET NX PX and a
// compare-and-delete release.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

var _ dispatch.StartLocker = (*RedisLocker)(nil)

// Option configures a RedisLocker.
type Option func(*RedisLocker)

// WithTTL bounds how long a crashed holder blocks other starts.
func WithTTL(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(l *RedisLocker) { l.prefix = p }
}

// NewRedisLocker creates a locker over an existing client.
func NewRedisLocker(client redis.UniversalClient, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		prefix:        DefaultPrefix,
		ttl:           DefaultTTL,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial creates a locker connected to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return NewRedisLocker(client, opts...), nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Lock blocks until the lock for key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire start lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire start lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release start lock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("release start lock %s: %w", key, ErrLockLost)
		}
		return nil
	}
	return release, nil
}
