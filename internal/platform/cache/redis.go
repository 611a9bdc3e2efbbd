package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout = 5 * time.Second
	pingTimeout        = 5 * time.Second
)

// New creates a Redis client from opts and verifies the connection. opts is
// copied; a zero DialTimeout becomes five seconds.
func New(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	if opts == nil || opts.Addr == "" {
		return nil, errors.New("platform/cache: redis address required")
	}
	cfg := *opts
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	client := redis.NewClient(&cfg)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}
