// Package cache keeps git output that is keyed by immutable commit hashes, so
// reruns over the same repository do not shell out again.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
)

// Store is a byte-valued key/value cache. A miss is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// NewStore opens the store cfg.Type names: "bolt", "redis", or "none"/"" for no
// persistent store.
func NewStore(ctx context.Context, cfg config.CacheConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "bolt":
		b, err := OpenBolt(cfg.Directory, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		r, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.TTL, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, errors.ConfigErrorf("unknown cache type %q (want none, bolt or redis)", cfg.Type)
}

// Key generates a standardized cache key.
// Format: "kind:repo:part1:part2..."
// Example: "log:django:1a2b3c4..5d6e7f8"
func Key(kind, repo string, parts ...string) string {
	return fmt.Sprintf("%s:%s:%s", kind, repo, strings.Join(parts, ":"))
}
