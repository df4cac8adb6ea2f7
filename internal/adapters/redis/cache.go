package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AvailabilityCache stores CheckAvailability answers under a per-unit
// generation number. Invalidate bumps the generation, orphaning every answer
// computed before it; orphans expire with their TTL.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func genKey(unitID uuid.UUID) string {
	return "avail:gen:" + unitID.String()
}

func entryKey(unitID uuid.UUID, gen int64, key string) string {
	return "avail:" + unitID.String() + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (c *AvailabilityCache) Lookup(ctx context.Context, unitID uuid.UUID, key string) (int64, bool, bool, error) {
	gen, err := c.client.Get(ctx, genKey(unitID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, false, err
	}
	val, err := c.client.Get(ctx, entryKey(unitID, gen, key)).Result()
	if errors.Is(err, redis.Nil) {
		return gen, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return gen, val == "1", true, nil
}

func (c *AvailabilityCache) Store(ctx context.Context, unitID uuid.UUID, gen int64, key string, available bool) error {
	val := "0"
	if available {
		val = "1"
	}
	return c.client.Set(ctx, entryKey(unitID, gen, key), val, c.ttl).Err()
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, unitIDs ...uuid.UUID) error {
	pipe := c.client.Pipeline()
	for _, id := range unitIDs {
		pipe.Incr(ctx, genKey(id))
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "bump availability generation")
}
