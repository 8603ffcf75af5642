package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/persway/internal/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes callers across processes with SET NX PX. The TTL
// bounds how long a crashed holder can block others.
type RedisLocker struct {
	rdb       *goredis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	log       *logger.Logger
}

type RedisOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithRetryWait(wait time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if wait > 0 {
			l.retryWait = wait
		}
	}
}

// WithLockLogger receives failed releases. The key then expires after the TTL.
func WithLockLogger(log *logger.Logger) RedisOption {
	return func(l *RedisLocker) {
		if log != nil {
			l.log = log
		}
	}
}

// NewRedisLocker connects to addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr string, opts ...RedisOption) (*RedisLocker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisLocker(rdb, opts...), nil
}

func newRedisLocker(rdb *goredis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:       rdb,
		prefix:    "persway:lock:",
		ttl:       30 * time.Second,
		retryWait: 50 * time.Millisecond,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryWait):
		}
	}

	return l.releaser(key, token), nil
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{l.prefix + key}, token).Err(); err != nil {
				l.log.Warn("failed to release redis lock", "key", key, "error", err)
			}
		})
	}
}

func (l *RedisLocker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
