package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const retryDelay = 200 * time.Millisecond

// Redis is a distributed Locker backed by redsync.
type Redis struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithLogger sets the logger used to report unlock failures.
func WithLogger(l *zap.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = l
	}
}

// NewRedis wraps an existing client. Locks expire after ttl if the holder
// never releases them.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		ttl:    ttl,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to redisURL and verifies the connection.
func DialRedis(ctx context.Context, redisURL, prefix string, ttl time.Duration, opts ...RedisOption) (*Redis, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, prefix, ttl, opts...), nil
}

// Lock acquires the distributed mutex for key, retrying until ctx is done
// or the lock TTL has elapsed.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	tries := int(r.ttl/retryDelay) + 1
	mutex := r.rs.NewMutex(r.prefix+key,
		redsync.WithExpiry(r.ttl),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(retryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				r.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
