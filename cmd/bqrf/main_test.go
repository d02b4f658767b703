package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/navikt/bq-remote-functions/pkg/service/core/handlers"
	"github.com/navikt/bq-remote-functions/pkg/service/core/routes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestYAML = `project: test-project
dataset: fns
location: EU
connection: test-project.eu.bqrf
endpoint: https://bqrf.example.com
max_batching_rows: 50
functions:
  - function: add
  - function: upper
    name: shout
    user_defined_context:
      mode: loud
`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	log := zerolog.Nop()

	registry := functions.NewRegistry()
	registry.MustRegister(functions.Add(), functions.Upper())

	services := core.NewServices(
		core.NewRemoteFunctionService(registry, nil, core.BatchLimits{MaxRows: 100}, nil, log),
	)

	endpoints := handlers.NewEndpoints(log, handlers.NewHandlers(services), 1<<20)

	router := chi.NewRouter()
	routes.Add(router, routes.NewRemoteFunctionRoutes(routes.NewRemoteFunctionEndpoints(endpoints), nil))

	s := httptest.NewServer(router)
	t.Cleanup(s.Close)

	return s
}

func TestInvoke(t *testing.T) {
	s := newServer(t)

	testCases := []struct {
		name       string
		opts       *invokeOptions
		expect     []any
		expectCode int
	}{
		{
			name:   "by route",
			opts:   &invokeOptions{url: s.URL, function: "add", calls: `[[1, 2], [null, 5]]`},
			expect: []any{float64(3), float64(5)},
		},
		{
			name:   "by context",
			opts:   &invokeOptions{url: s.URL + "/", calls: `[["x"]]`, context: map[string]string{"function": "upper"}},
			expect: []any{"X"},
		},
		{
			name:       "unknown function",
			opts:       &invokeOptions{url: s.URL, function: "nope", calls: `[[1]]`},
			expectCode: http.StatusNotFound,
		},
		{
			name:       "bad row",
			opts:       &invokeOptions{url: s.URL, function: "add", calls: `[[1]]`},
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := tc.opts.request()
			require.NoError(t, err)
			assert.NotEmpty(t, req.RequestID)

			got, err := invoke(context.Background(), s.Client(), tc.opts.target(), req)
			if tc.expectCode != 0 {
				var se *StatusError
				require.True(t, errors.As(err, &se), "got %v", err)
				assert.Equal(t, tc.expectCode, se.Code)
				assert.NotEmpty(t, se.Message)
				assert.Contains(t, se.Error(), "retried by BigQuery: false")

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expect, got.Replies)
		})
	}
}

func TestInvokeOptions_Request(t *testing.T) {
	_, err := (&invokeOptions{calls: `not json`}).request()
	assert.Error(t, err)

	_, err = (&invokeOptions{calls: `null`}).request()
	assert.Error(t, err)

	req, err := (&invokeOptions{calls: `[]`, requestID: "fixed"}).request()
	require.NoError(t, err)
	assert.Equal(t, "fixed", req.RequestID)
	assert.Equal(t, 0, req.Rows())
}

func TestDDLCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))

	out := &bytes.Buffer{}

	root := newRootCommand()
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ddl", "-f", path, "--enable-auth=false"})

	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "CREATE OR REPLACE FUNCTION `test-project.fns.add`(x INT64, y INT64)")
	assert.Contains(t, out.String(), "CREATE OR REPLACE FUNCTION `test-project.fns.shout`(s STRING)")
	assert.Contains(t, out.String(), `endpoint = "https://bqrf.example.com/functions/upper"`)
	assert.Contains(t, out.String(), `user_defined_context = [("function", "upper"), ("mode", "loud")]`)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))

	m, err := loadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "test-project", m.Project)
	assert.Equal(t, int64(50), m.MaxBatchingRows)
	require.Len(t, m.Functions, 2)
	assert.Equal(t, map[string]string{"mode": "loud"}, m.Functions[1].UserDefinedContext)

	_, err = loadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExampleManifestPlans(t *testing.T) {
	m, err := loadManifest(filepath.Join("..", "..", "resources", "manifest.yaml"))
	require.NoError(t, err)

	opts := &globalOptions{}

	routines, err := opts.routineService().Plan(m)
	require.NoError(t, err)
	require.Len(t, routines, 3)
	assert.Equal(t, "country_name", routines[1].RoutineID)
	assert.Equal(t, int64(1000), routines[1].MaxBatchingRows)
	assert.Equal(t, "https://bqrf.example.com/functions/lookup", routines[1].Endpoint)
}
