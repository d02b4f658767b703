package cache

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
}

// MemoryClient caches in process. When full, the oldest entry is evicted.
type MemoryClient struct {
	expiresAfter time.Duration
	maxEntries   int
	log          zerolog.Logger

	mu      sync.Mutex
	entries map[string]memoryEntry
	order   []string

	counter
}

var _ Cacher = &MemoryClient{}

func (c *MemoryClient) Get(_ context.Context, key string, into any) bool {
	c.request()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Msgf("cache miss on: %s", key)
		return false
	}

	if expired(e.createdAt, c.expiresAfter) {
		c.log.Debug().Msgf("cache expiry on: %s", key)
		return false
	}

	err := json.Unmarshal(e.data, into)
	if err != nil {
		c.log.Info().Err(err).Msgf("deserializing cached value: %s", key)
		return false
	}

	c.hit()

	return true
}

func (c *MemoryClient) Set(_ context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		c.log.Info().Err(err).Msgf("serializing value for cache: %s", key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}

	c.entries[key] = memoryEntry{
		data:      data,
		createdAt: time.Now(),
	}

	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *MemoryClient) Stats() Statistics {
	return c.stats()
}

func NewMemory(expiresAfter time.Duration, maxEntries int, log zerolog.Logger) *MemoryClient {
	return &MemoryClient{
		expiresAfter: expiresAfter,
		maxEntries:   maxEntries,
		log:          log,
		entries:      map[string]memoryEntry{},
	}
}
