// Package integration runs the cache backends and the server against real
// containers started with dockertest.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type containers struct {
	t         *testing.T
	log       zerolog.Logger
	pool      *dockertest.Pool
	network   *dockertest.Network
	resources []*dockertest.Resource
}

// Cleanup may be deferred in a test function to ensure that all resources are purged.
func (c *containers) Cleanup() {
	for _, r := range c.resources {
		if err := c.pool.Purge(r); err != nil {
			c.log.Warn().Err(err).Msg("purging resources")
		}
	}

	err := c.network.Close()
	if err != nil {
		c.log.Warn().Err(err).Msg("closing network")
	}
}

type PostgresConfig struct {
	User     string
	Password string
	Database string

	// HostPort is populated after the container is started.
	HostPort string
}

func (c *PostgresConfig) ConnectionURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Password, c.HostPort, c.Database)
}

func NewPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		User:     "bqrf",
		Password: "supersecret",
		Database: "bqrf",
	}
}

func hostConfig(config *docker.HostConfig) {
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{
		Name: "no",
	}
}

func (c *containers) RunPostgres(cfg *PostgresConfig) *PostgresConfig {
	var db *sql.DB

	resource, err := c.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14",
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", cfg.Password),
			fmt.Sprintf("POSTGRES_USER=%s", cfg.User),
			fmt.Sprintf("POSTGRES_DB=%s", cfg.Database),
			"listen_addresses = '*'",
		},
		NetworkID: c.network.Network.ID,
	}, hostConfig)
	if err != nil {
		c.t.Fatalf("starting postgres container: %s", err)
	}

	cfg.HostPort = resource.GetHostPort("5432/tcp")
	c.log.Info().Msgf("Postgres is configured with url: %s", cfg.ConnectionURL())

	c.pool.MaxWait = 120 * time.Second
	c.resources = append(c.resources, resource)

	if err = c.pool.Retry(func() error {
		db, err = sql.Open("postgres", cfg.ConnectionURL())
		if err != nil {
			return err
		}

		return db.Ping()
	}); err != nil {
		c.t.Fatalf("could not connect to postgres: %s", err)
	}

	_ = db.Close()

	return cfg
}

type RedisConfig struct {
	// HostPort is populated after the container is started.
	HostPort string
}

func NewRedisConfig() *RedisConfig {
	return &RedisConfig{}
}

func (c *RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr: c.HostPort,
	}
}

func (c *containers) RunRedis(cfg *RedisConfig) *RedisConfig {
	resource, err := c.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
		NetworkID:  c.network.Network.ID,
	}, hostConfig)
	if err != nil {
		c.t.Fatalf("starting redis container: %s", err)
	}

	cfg.HostPort = resource.GetHostPort("6379/tcp")
	c.log.Info().Msgf("Redis is listening on: %s", cfg.HostPort)

	c.pool.MaxWait = 60 * time.Second
	c.resources = append(c.resources, resource)

	if err := c.pool.Retry(func() error {
		rdb := redis.NewClient(cfg.Options())
		defer rdb.Close()

		return rdb.Ping(context.Background()).Err()
	}); err != nil {
		c.t.Fatalf("could not connect to redis: %s", err)
	}

	return cfg
}

func NewContainers(t *testing.T, log zerolog.Logger) *containers {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("connecting to Docker: %s", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		t.Skipf("docker is not available: %s", err)
	}

	networkName := fmt.Sprintf("bqrf-integration-test-network-%d", rand.Intn(1000))

	network, err := pool.CreateNetwork(networkName)
	if err != nil {
		t.Fatalf("creating network: %s", err)
	}

	return &containers{
		t:         t,
		log:       log,
		pool:      pool,
		network:   network,
		resources: nil,
	}
}

func Marshal(t *testing.T, v interface{}) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %s", err)
	}

	return b
}

func Unmarshal(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()

	d, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading: %s", err)
	}

	err = json.Unmarshal(d, v)
	if err != nil {
		t.Fatalf("unmarshaling: %s", err)
	}
}

type TestRunner interface {
	Post(input any, path string) TestRunnerStatus
	Get(path string) TestRunnerStatus
}

type TestRunnerStatus interface {
	HasStatusCode(code int) TestRunnerEnder
}

type TestRunnerEnder interface {
	Value(into any)
	Expect(expect, into any, opts ...cmp.Option)
}

type testRunner struct {
	t *testing.T
	s *httptest.Server

	response *http.Response
}

func (r *testRunner) HasStatusCode(code int) TestRunnerEnder {
	r.t.Helper()

	if r.response.StatusCode != code {
		r.t.Errorf("expected status code %d, got %d", code, r.response.StatusCode)
	}

	return r
}

func (r *testRunner) Expect(expect, into any, opts ...cmp.Option) {
	r.t.Helper()

	Unmarshal(r.t, r.response.Body, into)
	diff := cmp.Diff(expect, into, opts...)
	if diff != "" {
		r.t.Errorf("unexpected response: %s", diff)
	}
}

func (r *testRunner) Value(into any) {
	r.t.Helper()

	Unmarshal(r.t, r.response.Body, into)
}

func (r *testRunner) Get(path string) TestRunnerStatus {
	r.t.Helper()

	r.response = SendRequest(r.t, http.MethodGet, r.s.URL+path, nil)

	return r
}

func (r *testRunner) Post(input any, path string) TestRunnerStatus {
	r.t.Helper()

	r.response = SendRequest(r.t, http.MethodPost, r.s.URL+path, bytes.NewReader(Marshal(r.t, input)))

	return r
}

func NewTester(t *testing.T, s *httptest.Server) TestRunner {
	return &testRunner{
		t: t,
		s: s,
	}
}

func SendRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("creating request: %s", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sending request: %s", err)
	}

	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	return resp
}

func TestRouter(log zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		log.Error().Str("method", r.Method).Str("path", r.URL.Path).Msg("not found")
		w.WriteHeader(http.StatusNotFound)
	})

	return r
}
