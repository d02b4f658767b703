//go:build integration_test

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/navikt/bq-remote-functions/pkg/database"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCache(t *testing.T) {
	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	pgCfg := c.RunPostgres(NewPostgresConfig())

	repo, err := database.New(pgCfg.ConnectionURL(), 10, 10)
	require.NoError(t, err)
	defer repo.Close()

	ctx := cache.WithFunction(context.Background(), "add")

	t.Run("Set and get", func(t *testing.T) {
		val := &remotefn.Response{Replies: []any{float64(3), nil}}

		c := cache.New(10*time.Second, repo.GetDB(), log)
		c.Set(ctx, "set-and-get", val)

		got := &remotefn.Response{}
		assert.True(t, c.Get(ctx, "set-and-get", got))
		assert.Equal(t, val, got)
		assert.Equal(t, cache.Statistics{TotalRequests: 1, TotalHits: 1}, c.Stats())
	})

	t.Run("Update", func(t *testing.T) {
		c := cache.New(10*time.Second, repo.GetDB(), log)

		c.Set(ctx, "update", &remotefn.Response{Replies: []any{"a"}})
		c.Set(ctx, "update", &remotefn.Response{Replies: []any{"b"}})

		got := &remotefn.Response{}
		assert.True(t, c.Get(ctx, "update", got))
		assert.Equal(t, []any{"b"}, got.Replies)
	})

	t.Run("Expiry and purge", func(t *testing.T) {
		c := cache.New(time.Second, repo.GetDB(), log)

		c.Set(ctx, "expiring", &remotefn.Response{Replies: []any{"x"}})

		time.Sleep(2 * time.Second)

		got := &remotefn.Response{}
		assert.False(t, c.Get(ctx, "expiring", got))

		purged, err := c.Purge(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))

		purged, err = c.Purge(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), purged)
	})

	t.Run("Miss", func(t *testing.T) {
		c := cache.New(10*time.Second, repo.GetDB(), log)

		assert.False(t, c.Get(ctx, "never-set", &remotefn.Response{}))
		assert.Equal(t, cache.Statistics{TotalRequests: 1, TotalMisses: 1}, c.Stats())
	})
}

func TestRedisCache(t *testing.T) {
	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	redisCfg := c.RunRedis(NewRedisConfig())

	rdb := redis.NewClient(redisCfg.Options())
	defer rdb.Close()

	ctx := context.Background()

	t.Run("Set and get", func(t *testing.T) {
		val := &remotefn.Response{Replies: []any{"A", nil}}

		c := cache.NewRedis(10*time.Second, rdb, log)
		c.Set(ctx, "set-and-get", val)

		got := &remotefn.Response{}
		assert.True(t, c.Get(ctx, "set-and-get", got))
		assert.Equal(t, val, got)
	})

	t.Run("Expiry", func(t *testing.T) {
		c := cache.NewRedis(time.Second, rdb, log)
		c.Set(ctx, "expiring", &remotefn.Response{Replies: []any{"x"}})

		time.Sleep(2 * time.Second)

		assert.False(t, c.Get(ctx, "expiring", &remotefn.Response{}))
	})
}
