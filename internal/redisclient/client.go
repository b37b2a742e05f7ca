// Package redisclient builds the shared Redis client used for cross-replica
// quota counters and job locks.
package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyURL is returned when Redis is not configured.
var ErrEmptyURL = errors.New("redis url is required")

// connectionTimeout is the timeout for verifying the Redis connection.
const connectionTimeout = 5 * time.Second

// New parses a redis:// or rediss:// URL and verifies the connection.
func New(url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
