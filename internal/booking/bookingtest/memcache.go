package bookingtest

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryCache mirrors the generation scheme of the redis availability cache.
type MemoryCache struct {
	mu      sync.Mutex
	gens    map[uuid.UUID]int64
	entries map[string]bool
	Hits    int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{gens: map[uuid.UUID]int64{}, entries: map[string]bool{}}
}

func entryKey(unitID uuid.UUID, gen int64, key string) string {
	return unitID.String() + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (c *MemoryCache) Lookup(_ context.Context, unitID uuid.UUID, key string) (int64, bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[unitID]
	available, ok := c.entries[entryKey(unitID, gen, key)]
	if ok {
		c.Hits++
	}
	return gen, available, ok, nil
}

func (c *MemoryCache) Store(_ context.Context, unitID uuid.UUID, gen int64, key string, available bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(unitID, gen, key)] = available
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, unitIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range unitIDs {
		c.gens[id]++
	}
	return nil
}
