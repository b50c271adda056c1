package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
)

// RedisStore shares the cache between machines mining the same repositories.
type RedisStore struct {
	client *redis.Client
	logger logrus.FieldLogger
	ttl    time.Duration // 0 keeps entries forever
}

// NewRedisStore connects to addr and verifies connectivity.
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration, logger *logrus.Logger) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.ConfigErrorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password, // Empty string if no password
		DB:       0,        // Use default DB
	})

	// Verify connectivity (fail fast on startup)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.StorageErrorf(err, "connecting to redis at %s", addr)
	}

	l := logger.WithField("component", "redis")
	l.WithField("addr", addr).Debug("Redis cache connected")
	return &RedisStore{client: client, logger: l, ttl: ttl}, nil
}

// Get retrieves a cached value. A miss returns false and no error.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.logger.WithField("key", key).Debug("cache miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StorageErrorf(err, "redis get %s", key)
	}
	r.logger.WithField("key", key).Debug("cache hit")
	return val, true, nil
}

// Set stores a value with the store's TTL.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return errors.StorageErrorf(err, "redis set %s", key)
	}
	return nil
}

// DeletePattern deletes all keys matching a pattern, e.g. "log:django:*".
func (r *RedisStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, errors.StorageErrorf(err, "redis scan %s", pattern)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.StorageErrorf(err, "redis delete %s", pattern)
	}
	r.logger.WithFields(logrus.Fields{"pattern": pattern, "deleted": deleted}).Info("Cache pattern delete")
	return deleted, nil
}

// Close closes the client connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
