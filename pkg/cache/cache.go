// Package cache stores successful remote function responses so that a
// retried batch is answered without evaluating it again.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

type Cacher interface {
	// Get returns true if get a hit in the cache and are able to deserialize
	// into the provided struct
	Get(ctx context.Context, key string, into any) bool

	// Set will serialize the provided data and store it in our cache
	Set(ctx context.Context, key string, val any)

	Stats() Statistics
}

type Statistics struct {
	TotalRequests int
	TotalHits     int
	TotalMisses   int
}

const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type counter struct {
	requests atomic.Int32
	hits     atomic.Int32
}

func (c *counter) request() {
	c.requests.Add(1)
}

func (c *counter) hit() {
	c.hits.Add(1)
}

func (c *counter) stats() Statistics {
	requests := c.requests.Load()
	hits := c.hits.Load()

	return Statistics{
		TotalRequests: int(requests),
		TotalHits:     int(hits),
		TotalMisses:   int(requests - hits),
	}
}

// Noop never hits.
type Noop struct {
	counter
}

var _ Cacher = &Noop{}

func (n *Noop) Get(_ context.Context, _ string, _ any) bool {
	n.request()

	return false
}

func (n *Noop) Set(_ context.Context, _ string, _ any) {}

func (n *Noop) Stats() Statistics {
	return n.stats()
}

func NewNoop() *Noop {
	return &Noop{}
}

func expired(createdAt time.Time, expiresAfter time.Duration) bool {
	return time.Since(createdAt) > expiresAfter
}
