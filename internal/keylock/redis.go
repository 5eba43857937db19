package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "wabot:lock:"
	defaultLockTTL = 30 * time.Second
)

var errLockLost = errors.New("lock no longer held")

// Redis is a distributed keyed lock backed by redsync.
type Redis struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must be provided")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewRedis creates a distributed locker. The lock TTL bounds how long a crashed
// holder can block a key; a live holder renews it every TTL/2 until unlock.
func NewRedis(log *slog.Logger, client redis.UniversalClient, ttl time.Duration) *Redis {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: log.With(slog.String("component", "keylock")),
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	mutex := r.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(r.ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	stop := keepAlive(r.ttl/2, mutex.ExtendContext, func(err error) {
		r.logger.Warn("extend lock failed", slog.String("key", key), slog.Any("error", err))
	})
	return sync.OnceFunc(func() {
		stop()
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			r.logger.Error("release lock failed", slog.String("key", key), slog.Any("error", err))
		}
	}), nil
}

// keepAlive calls extend every interval until the returned stop is called.
// stop waits for an in-flight extension to finish.
func keepAlive(interval time.Duration, extend func(context.Context) (bool, error), onFail func(error)) (stop func()) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := extend(ctx)
				if ctx.Err() != nil {
					return
				}
				if err == nil && !ok {
					err = errLockLost
				}
				if err != nil {
					onFail(err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Ping reports whether redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
