package core_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, body string) *remotefn.Request {
	t.Helper()

	req, err := remotefn.DecodeRequest(strings.NewReader(body))
	require.NoError(t, err)

	return req
}

func testRegistry(extra ...*functions.Definition) *functions.Registry {
	r := functions.NewRegistry()
	r.MustRegister(functions.Add(), functions.Upper())
	r.MustRegister(extra...)

	return r
}

func slowIdentity() *functions.Definition {
	return &functions.Definition{
		Name:       "slow_identity",
		Arguments:  []functions.Argument{{Name: "ms", Type: remotefn.TypeInt64}},
		ReturnType: remotefn.TypeInt64,
		Fn: func(ctx context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			ms, err := a[0].Int64()
			if err != nil {
				return nil, err
			}

			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			return ms, nil
		},
	}
}

func panicky() *functions.Definition {
	return &functions.Definition{
		Name:       "panicky",
		Arguments:  []functions.Argument{{Name: "x", Type: remotefn.TypeInt64}},
		ReturnType: remotefn.TypeInt64,
		Fn: func(_ context.Context, _ remotefn.Args, _ map[string]string) (any, error) {
			panic("something broke")
		},
	}
}

func TestRemoteFunctionService_Call(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		function  string
		body      string
		limits    core.BatchLimits
		expect    string
		expectErr errs.Kind
	}{
		{
			name:     "function from route",
			function: "add",
			body:     `{"requestId": "r1", "calls": [[1, 2], [null, 3], [null, null]]}`,
			expect:   `{"replies": [3, 3, 0]}`,
		},
		{
			name:   "function from user defined context",
			body:   `{"userDefinedContext": {"function": "upper"}, "calls": [["a"], [null]]}`,
			expect: `{"replies": ["A", null]}`,
		},
		{
			name:     "route wins over context",
			function: "upper",
			body:     `{"userDefinedContext": {"function": "add"}, "calls": [["b"]]}`,
			expect:   `{"replies": ["B"]}`,
		},
		{
			name:     "empty batch",
			function: "add",
			body:     `{"calls": []}`,
			expect:   `{"replies": []}`,
		},
		{
			name:     "large sums become strings",
			function: "add",
			body:     `{"calls": [[9007199254740991, 1]]}`,
			expect:   `{"replies": ["9007199254740992"]}`,
		},
		{
			name:      "no function",
			body:      `{"calls": [[1, 2]]}`,
			expectErr: errs.InvalidRequest,
		},
		{
			name:      "unknown function",
			function:  "nope",
			body:      `{"calls": [[1, 2]]}`,
			expectErr: errs.NotExist,
		},
		{
			name:      "too many rows",
			function:  "add",
			body:      `{"calls": [[1, 2], [3, 4], [5, 6]]}`,
			limits:    core.BatchLimits{MaxRows: 2},
			expectErr: errs.InvalidRequest,
		},
		{
			name:      "wrong arity",
			function:  "add",
			body:      `{"calls": [[1, 2], [3]]}`,
			expectErr: errs.InvalidRequest,
		},
		{
			name:      "function error",
			function:  "add",
			body:      `{"calls": [[1, 2], ["x", 2]]}`,
			expectErr: errs.Function,
		},
		{
			name:      "panic",
			function:  "panicky",
			body:      `{"calls": [[1]]}`,
			expectErr: errs.Function,
		},
		{
			name:      "timeout",
			function:  "slow_identity",
			body:      `{"calls": [[10], [5000]]}`,
			limits:    core.BatchLimits{Timeout: 100 * time.Millisecond},
			expectErr: errs.Timeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := core.NewRemoteFunctionService(testRegistry(slowIdentity(), panicky()), nil, tc.limits, nil, zerolog.Nop())

			got, err := s.Call(context.Background(), tc.function, mustDecode(t, tc.body))
			if tc.expectErr != errs.Other {
				require.Error(t, err)
				assert.True(t, errs.KindIs(tc.expectErr, err), "got %v", err)
				return
			}

			require.NoError(t, err)

			out, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expect, string(out))
		})
	}
}

func TestRemoteFunctionService_CallKeepsOrder(t *testing.T) {
	t.Parallel()

	s := core.NewRemoteFunctionService(testRegistry(slowIdentity()), nil, core.BatchLimits{Concurrency: 4}, nil, zerolog.Nop())

	got, err := s.Call(context.Background(), "slow_identity", mustDecode(t, `{"calls": [[80], [10], [40], [1], [60], [20]]}`))
	require.NoError(t, err)

	assert.Equal(t, []any{int64(80), int64(10), int64(40), int64(1), int64(60), int64(20)}, got.Replies)
}

func TestRemoteFunctionService_CallIsIdempotent(t *testing.T) {
	t.Parallel()

	var invocations atomic.Int32

	counting := &functions.Definition{
		Name:       "counting",
		Arguments:  []functions.Argument{{Name: "x", Type: remotefn.TypeInt64}},
		ReturnType: remotefn.TypeInt64,
		Fn: func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			invocations.Add(1)

			return a[0].Int64()
		},
	}

	metrics := core.NewMetrics()
	s := core.NewRemoteFunctionService(testRegistry(counting), cache.NewMemory(time.Minute, 10, zerolog.Nop()), core.BatchLimits{}, metrics, zerolog.Nop())

	body := `{"requestId": "retry-me", "calls": [[1], [2]]}`

	first, err := s.Call(context.Background(), "counting", mustDecode(t, body))
	require.NoError(t, err)

	second, err := s.Call(context.Background(), "counting", mustDecode(t, body))
	require.NoError(t, err)

	assert.Equal(t, int32(2), invocations.Load())

	a, err := json.Marshal(first)
	require.NoError(t, err)

	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits.WithLabelValues("counting")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Batches.WithLabelValues("counting", "200")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Rows.WithLabelValues("counting")))

	_, err = s.Call(context.Background(), "counting", mustDecode(t, `{"requestId": "retry-me", "calls": [[3]]}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), invocations.Load(), "different calls under the same request id are evaluated")

	_, err = s.Call(context.Background(), "counting", mustDecode(t, `{"calls": [[1], [2]]}`))
	require.NoError(t, err)
	assert.Equal(t, int32(5), invocations.Load(), "batches without a request id are never cached")
}

func TestRemoteFunctionService_FailedBatchIsNotCached(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)

	flaky := &functions.Definition{
		Name:       "flaky",
		Arguments:  []functions.Argument{{Name: "x", Type: remotefn.TypeInt64}},
		ReturnType: remotefn.TypeInt64,
		Fn: func(_ context.Context, _ remotefn.Args, _ map[string]string) (any, error) {
			if fail.Load() {
				return nil, errs.E(errs.Unavailable, errs.Op("flaky"), fmt.Errorf("backend down"))
			}

			return int64(1), nil
		},
	}

	metrics := core.NewMetrics()
	s := core.NewRemoteFunctionService(testRegistry(flaky), cache.NewMemory(time.Minute, 10, zerolog.Nop()), core.BatchLimits{}, metrics, zerolog.Nop())

	body := `{"requestId": "r", "calls": [[1]]}`

	_, err := s.Call(context.Background(), "flaky", mustDecode(t, body))
	assert.True(t, errs.KindIs(errs.Unavailable, err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Batches.WithLabelValues("flaky", "503")))

	fail.Store(false)

	got, err := s.Call(context.Background(), "flaky", mustDecode(t, body))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, got.Replies)
}

func TestRemoteFunctionService_ListFunctions(t *testing.T) {
	t.Parallel()

	s := core.NewRemoteFunctionService(testRegistry(), nil, core.BatchLimits{}, nil, zerolog.Nop())

	got, err := s.ListFunctions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &service.FunctionList{
		Functions: []*service.Function{
			{
				Name:        "add",
				Description: "Sum of the non-null arguments",
				Arguments: []service.FunctionArgument{
					{Name: "x", Type: remotefn.TypeInt64},
					{Name: "y", Type: remotefn.TypeInt64},
				},
				ReturnType:    remotefn.TypeInt64,
				Deterministic: true,
			},
			{
				Name:        "upper",
				Description: "Upper case of a string",
				Arguments: []service.FunctionArgument{
					{Name: "s", Type: remotefn.TypeString},
				},
				ReturnType:    remotefn.TypeString,
				Deterministic: true,
			},
		},
	}, got)
}

type mapDictionary map[string]string

func (d mapDictionary) Lookup(key string) (string, bool) {
	v, ok := d[key]
	return v, ok
}

func TestRemoteFunctionService_CacheKeyIncludesUserDefinedContext(t *testing.T) {
	t.Parallel()

	metrics := core.NewMetrics()
	s := core.NewRemoteFunctionService(
		testRegistry(functions.Lookup(mapDictionary{"NO": "Norway"})),
		cache.NewMemory(time.Minute, 10, zerolog.Nop()),
		core.BatchLimits{},
		metrics,
		zerolog.Nop(),
	)

	first, err := s.Call(context.Background(), "lookup", mustDecode(t, `{"requestId": "r", "userDefinedContext": {"default": "unknown"}, "calls": [["NO"], ["SE"]]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"Norway", "unknown"}, first.Replies)

	second, err := s.Call(context.Background(), "lookup", mustDecode(t, `{"requestId": "r", "userDefinedContext": {"default": "n/a"}, "calls": [["NO"], ["SE"]]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"Norway", "n/a"}, second.Replies)

	third, err := s.Call(context.Background(), "lookup", mustDecode(t, `{"requestId": "r", "userDefinedContext": {"default": "n/a"}, "calls": [["NO"], ["SE"]]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"Norway", "n/a"}, third.Replies)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits.WithLabelValues("lookup")))
}

func TestRemoteFunctionService_UnresolvedBatchesAreCounted(t *testing.T) {
	t.Parallel()

	metrics := core.NewMetrics()
	s := core.NewRemoteFunctionService(testRegistry(), nil, core.BatchLimits{}, metrics, zerolog.Nop())

	testCases := []struct {
		name     string
		function string
		body     string
		status   string
	}{
		{
			name:   "no function",
			body:   `{"calls": [[1]]}`,
			status: "400",
		},
		{
			name:     "unknown function",
			function: "nope",
			body:     `{"calls": [[1]]}`,
			status:   "404",
		},
	}

	for _, tc := range testCases {
		_, err := s.Call(context.Background(), tc.function, mustDecode(t, tc.body))
		assert.Error(t, err, tc.name)
	}

	_, err := s.Call(context.Background(), "add", nil)
	assert.True(t, errs.KindIs(errs.InvalidRequest, err))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Batches.WithLabelValues(core.UnresolvedFunction, "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Batches.WithLabelValues(core.UnresolvedFunction, "404")))
}
