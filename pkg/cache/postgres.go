package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Client caches in the reply_cache table.
type Client struct {
	expiresAfter time.Duration
	db           *sql.DB
	log          zerolog.Logger

	counter
}

var _ Cacher = &Client{}

func (c *Client) Get(ctx context.Context, key string, into any) bool {
	c.request()

	var (
		body      []byte
		createdAt time.Time
	)

	err := c.db.QueryRowContext(ctx, `SELECT response_body, created_at FROM reply_cache WHERE cache_key = $1 AND expires_at > NOW()`, key).
		Scan(&body, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.log.Debug().Msgf("cache miss on: %s", key)
			return false
		}

		c.log.Info().Err(err).Msgf("fetching cached value: %s", key)
		return false
	}

	if expired(createdAt, c.expiresAfter) {
		c.log.Debug().Msgf("cache expiry on: %s", key)
		return false
	}

	err = json.Unmarshal(body, into)
	if err != nil {
		c.log.Info().Err(err).Msgf("deserializing cached value: %s", key)
		return false
	}

	c.hit()

	return true
}

func (c *Client) Set(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		c.log.Info().Err(err).Msgf("serializing value for cache: %s", key)
		return
	}

	now := time.Now().UTC()

	_, err = c.db.ExecContext(ctx, `INSERT INTO reply_cache (cache_key, function_name, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (cache_key) DO UPDATE SET response_body = $3, created_at = $4, expires_at = $5`,
		key, FunctionFromContext(ctx), data, now, now.Add(c.expiresAfter))
	if err != nil {
		c.log.Info().Err(err).Msgf("updating cache: %s", key)
	}
}

// Purge removes expired rows and returns how many were removed.
func (c *Client) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM reply_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (c *Client) Stats() Statistics {
	return c.stats()
}

func New(expiresAfter time.Duration, db *sql.DB, log zerolog.Logger) *Client {
	return &Client{
		expiresAfter: expiresAfter,
		db:           db,
		log:          log,
	}
}
