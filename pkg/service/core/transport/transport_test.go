package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/goccy/go-json"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

type TestData struct {
	ID string `json:"id,omitempty"`
}

type testSimpleHandler struct {
	invocations int
}

func (h *testSimpleHandler) Reset() {
	h.invocations = 0
}

func (h *testSimpleHandler) Invocations() int {
	return h.invocations
}

func (h *testSimpleHandler) Simple(_ context.Context, _ *http.Request, in TestData) (*TestData, error) {
	h.invocations++

	return &TestData{
		ID: in.ID,
	}, nil
}

func (h *testSimpleHandler) SimpleNoOutput(_ context.Context, _ *http.Request, _ TestData) (*Empty, error) {
	h.invocations++

	return &Empty{}, nil
}

func (h *testSimpleHandler) ParamFromContext(ctx context.Context, _ *http.Request, _ any) (*TestData, error) {
	h.invocations++

	return &TestData{
		ID: chi.URLParamFromCtx(ctx, "id"),
	}, nil
}

func (h *testSimpleHandler) TextEncoder(_ context.Context, _ *http.Request, _ any) (*Text, error) {
	h.invocations++

	return NewText("ok"), nil
}

func (h *testSimpleHandler) NotFound(_ context.Context, _ *http.Request, _ TestData) (*TestData, error) {
	h.invocations++

	return nil, errs.E(errs.NotExist, errs.Op("testSimpleHandler.NotFound"), errs.Parameter("id"), errors.New("no such thing"))
}

// readAll decodes after reading the whole body, so the MaxBytesError surfaces
// unwrapped.
func readAll(r *http.Request) (TestData, error) {
	var in TestData

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return in, err
	}

	err = json.Unmarshal(data, &in)

	return in, err
}

func TestHandlerFor(t *testing.T) {
	simple := &testSimpleHandler{}

	logger := zerolog.Nop()

	testCases := []struct {
		name    string
		desc    string
		routes  map[string]http.HandlerFunc
		request *http.Request
		status  int
		count   int
		golden  bool
	}{
		{
			name: "handler-for-json-request-response",
			desc: "Invokes the handler, parses the request from JSON and returns the response as JSON",
			routes: map[string]http.HandlerFunc{
				"/test": For(simple.Simple).RequestFromJSON().Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"id": "test"}`)),
			status:  http.StatusOK,
			count:   1,
			golden:  true,
		},
		{
			name: "handler-for-json-request-response-no-output",
			desc: "Invokes the handler and expects an empty response with no content",
			routes: map[string]http.HandlerFunc{
				"/test": For(simple.SimpleNoOutput).RequestFromJSON().Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"id": "test"}`)),
			status:  http.StatusNoContent,
			count:   1,
			golden:  true,
		},
		{
			name: "handler-for-param-from-context",
			desc: "Invokes the handler and expects the parameter to be taken from the context",
			routes: map[string]http.HandlerFunc{
				"/test/{id}": For(simple.ParamFromContext).Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test/123", nil),
			status:  http.StatusOK,
			count:   1,
			golden:  true,
		},
		{
			name: "handler-for-text-encoder",
			desc: "Invokes the handler and expects the custom encoder to be used",
			routes: map[string]http.HandlerFunc{
				"/whatever": For(simple.TextEncoder).Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/whatever", nil),
			status:  http.StatusOK,
			count:   1,
			golden:  true,
		},
		{
			name: "handler-for-service-error",
			desc: "Invokes the handler and expects the error envelope with the status of the error kind",
			routes: map[string]http.HandlerFunc{
				"/test": For(simple.NotFound).RequestFromJSON().Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`)),
			status:  http.StatusNotFound,
			count:   1,
			golden:  true,
		},
		{
			name: "handler-for-body-too-large",
			desc: "Rejects the body before the handler is invoked",
			routes: map[string]http.HandlerFunc{
				"/test": For(simple.Simple).RequestFrom(readAll).LimitBody(8).Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"id": "much too long"}`)),
			status:  http.StatusRequestEntityTooLarge,
			count:   0,
			golden:  true,
		},
		{
			name: "handler-for-malformed-json",
			desc: "Rejects a body that is not JSON",
			routes: map[string]http.HandlerFunc{
				"/test": For(simple.Simple).RequestFromJSON().Build(logger),
			},
			request: httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"id":`)),
			status:  http.StatusBadRequest,
			count:   0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			defer simple.Reset()

			rr := httptest.NewRecorder()

			r := chi.NewRouter()
			for path, handler := range tc.routes {
				r.Post(path, handler)
			}

			r.ServeHTTP(rr, tc.request)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.count, simple.Invocations())

			if !tc.golden {
				assert.Contains(t, rr.Body.String(), "errorMessage")
				return
			}

			g := goldie.New(t)
			g.Assert(t, tc.name, rr.Body.Bytes())
		})
	}
}
