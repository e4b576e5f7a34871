// Package lock provides distributed supplier locks for multi-instance
// deployments. A single instance on SQLite does not need one: the store
// already serializes writers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/supplier-ledger/ledger"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
	DefaultRetryLimit = 40
)

// RedisLocker implements ledger.Locker with one redislock per key.
type RedisLocker struct {
	client     *redislock.Client
	ttl        time.Duration
	retryDelay time.Duration
	retryLimit int
	log        zerolog.Logger
}

var _ ledger.Locker = (*RedisLocker)(nil)

type Option func(*RedisLocker)

func WithTTL(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithRetry sets how long Lock waits for a held key: limit attempts,
// delay apart.
func WithRetry(delay time.Duration, limit int) Option {
	return func(l *RedisLocker) {
		l.retryDelay = delay
		l.retryLimit = limit
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *RedisLocker) { l.log = log }
}

func NewRedisLocker(rdb *redis.Client, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:     redislock.New(rdb),
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
		retryLimit: DefaultRetryLimit,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock obtains every key in the given order and returns a release func
// that unlocks them in reverse. Callers pass keys sorted so that two
// operations touching the same suppliers cannot deadlock.
//
// If any key cannot be obtained, the keys already held are released and
// the error wraps ledger.ErrConcurrentModification.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Background: the caller's ctx may already be cancelled.
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.Warn().Err(err).Str("key", held[i].Key()).Msg("release lock")
			}
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.retryDelay), l.retryLimit),
	}
	for _, key := range keys {
		lk, err := l.client.Obtain(ctx, key, l.ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: lock %s not obtained", ledger.ErrConcurrentModification, key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}
