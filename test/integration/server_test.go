//go:build integration_test

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/navikt/bq-remote-functions/pkg/database"
	"github.com/navikt/bq-remote-functions/pkg/dictionary"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/navikt/bq-remote-functions/pkg/service/core/handlers"
	"github.com/navikt/bq-remote-functions/pkg/service/core/routes"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerWithPostgresCache(t *testing.T) {
	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	pgCfg := c.RunPostgres(NewPostgresConfig())

	repo, err := database.New(pgCfg.ConnectionURL(), 10, 10)
	require.NoError(t, err)
	defer repo.Close()

	registry := functions.NewRegistry()
	registry.MustRegister(functions.Builtins(dictionary.NewStatic(map[string]string{"NO": "Norway"}))...)

	metrics := core.NewMetrics()

	services := core.NewServices(
		core.NewRemoteFunctionService(
			registry,
			cache.New(time.Minute, repo.GetDB(), log),
			core.BatchLimits{MaxRows: 100, Concurrency: 4, Timeout: 10 * time.Second},
			metrics,
			log,
		),
	)

	h := handlers.NewHandlers(services, func(ctx context.Context) error {
		return repo.GetDB().PingContext(ctx)
	})
	endpoints := handlers.NewEndpoints(log, h, 1<<20)

	r := TestRouter(log)
	routes.Add(r,
		routes.NewRemoteFunctionRoutes(routes.NewRemoteFunctionEndpoints(endpoints), nil),
		routes.NewHealthRoutes(routes.NewHealthEndpoints(endpoints)),
	)

	server := httptest.NewServer(r)
	defer server.Close()

	t.Run("Ready", func(t *testing.T) {
		NewTester(t, server).
			Get("/internal/isready").
			HasStatusCode(http.StatusOK)
	})

	t.Run("Call lookup by route", func(t *testing.T) {
		NewTester(t, server).
			Post(&remotefn.Request{
				RequestID:          "lookup-1",
				UserDefinedContext: map[string]string{"default": "n/a"},
				Calls: []remotefn.Args{
					{remotefn.RawValue(`"NO"`)},
					{remotefn.RawValue(`"SE"`)},
					{remotefn.RawValue(`null`)},
				},
			}, "/functions/lookup").
			HasStatusCode(http.StatusOK).
			Expect(&remotefn.Response{Replies: []any{"Norway", "n/a", nil}}, &remotefn.Response{})
	})

	t.Run("Retried batch is answered from the cache", func(t *testing.T) {
		req := &remotefn.Request{
			RequestID:          "add-1",
			UserDefinedContext: map[string]string{service.UserDefinedContextFunction: "add"},
			Calls: []remotefn.Args{
				{remotefn.RawValue(`1`), remotefn.RawValue(`2`)},
				{remotefn.RawValue(`null`), remotefn.RawValue(`null`)},
			},
		}
		expect := &remotefn.Response{Replies: []any{float64(3), float64(0)}}

		NewTester(t, server).Post(req, "/").HasStatusCode(http.StatusOK).Expect(expect, &remotefn.Response{})
		NewTester(t, server).Post(req, "/").HasStatusCode(http.StatusOK).Expect(expect, &remotefn.Response{})

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits.WithLabelValues("add")))
	})

	t.Run("Function error", func(t *testing.T) {
		got := &errs.ErrResponse{}

		NewTester(t, server).
			Post(&remotefn.Request{
				Calls: []remotefn.Args{{remotefn.RawValue(`"x"`), remotefn.RawValue(`1`)}},
			}, "/functions/add").
			HasStatusCode(http.StatusBadRequest).
			Value(got)

		assert.Contains(t, got.ErrorMessage, "row 0")
	})

	t.Run("List functions", func(t *testing.T) {
		got := &service.FunctionList{}

		NewTester(t, server).
			Get("/api/functions").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Len(t, got.Functions, 12)
	})
}
