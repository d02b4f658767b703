package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "bqrf:reply:"

// RedisClient caches with a redis TTL per key.
type RedisClient struct {
	expiresAfter time.Duration
	rdb          *redis.Client
	log          zerolog.Logger

	counter
}

var _ Cacher = &RedisClient{}

func (c *RedisClient) Get(ctx context.Context, key string, into any) bool {
	c.request()

	data, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.log.Debug().Msgf("cache miss on: %s", key)
			return false
		}

		c.log.Info().Err(err).Msgf("fetching cached value: %s", key)
		return false
	}

	err = json.Unmarshal(data, into)
	if err != nil {
		c.log.Info().Err(err).Msgf("deserializing cached value: %s", key)
		return false
	}

	c.hit()

	return true
}

func (c *RedisClient) Set(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		c.log.Info().Err(err).Msgf("serializing value for cache: %s", key)
		return
	}

	err = c.rdb.Set(ctx, redisKeyPrefix+key, data, c.expiresAfter).Err()
	if err != nil {
		c.log.Info().Err(err).Msgf("updating cache: %s", key)
	}
}

func (c *RedisClient) Stats() Statistics {
	return c.stats()
}

func NewRedis(expiresAfter time.Duration, rdb *redis.Client, log zerolog.Logger) *RedisClient {
	return &RedisClient{
		expiresAfter: expiresAfter,
		rdb:          rdb,
		log:          log,
	}
}
