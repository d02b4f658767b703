package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type cachedReply struct {
	Replies []any `json:"replies"`
}

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		c := cache.NewMemory(time.Minute, 10, zerolog.Nop())

		c.Set(ctx, "k", &cachedReply{Replies: []any{"a", nil}})

		got := &cachedReply{}
		assert.True(t, c.Get(ctx, "k", got))
		assert.Equal(t, []any{"a", nil}, got.Replies)

		assert.False(t, c.Get(ctx, "missing", got))
		assert.Equal(t, cache.Statistics{TotalRequests: 2, TotalHits: 1, TotalMisses: 1}, c.Stats())
	})

	t.Run("expiry", func(t *testing.T) {
		c := cache.NewMemory(time.Millisecond, 10, zerolog.Nop())

		c.Set(ctx, "k", &cachedReply{})
		time.Sleep(5 * time.Millisecond)

		assert.False(t, c.Get(ctx, "k", &cachedReply{}))
	})

	t.Run("evicts oldest", func(t *testing.T) {
		c := cache.NewMemory(time.Minute, 2, zerolog.Nop())

		c.Set(ctx, "a", &cachedReply{})
		c.Set(ctx, "b", &cachedReply{})
		c.Set(ctx, "a", &cachedReply{Replies: []any{"again"}})
		c.Set(ctx, "c", &cachedReply{})

		assert.Equal(t, 2, c.Len())
		assert.False(t, c.Get(ctx, "a", &cachedReply{}))
		assert.True(t, c.Get(ctx, "b", &cachedReply{}))
		assert.True(t, c.Get(ctx, "c", &cachedReply{}))
	})
}

func TestNoop(t *testing.T) {
	c := cache.NewNoop()

	c.Set(context.Background(), "k", &cachedReply{})
	assert.False(t, c.Get(context.Background(), "k", &cachedReply{}))
	assert.Equal(t, 1, c.Stats().TotalMisses)
}

func TestWithFunction(t *testing.T) {
	assert.Equal(t, "", cache.FunctionFromContext(context.Background()))
	assert.Equal(t, "add", cache.FunctionFromContext(cache.WithFunction(context.Background(), "add")))
}
