package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowCounter keeps fixed-window request counters for rate limiting.
type WindowCounter struct {
	client *redis.Client
}

func NewWindowCounter(client *redis.Client) *WindowCounter {
	return &WindowCounter{client: client}
}

// Hit counts one request against key's current window and returns the count
// so far. The window starts with the first hit.
func (c *WindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := "rl:" + key

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
