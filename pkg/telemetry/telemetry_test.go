package telemetry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/navikt/bq-remote-functions/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     true,
		ServiceName: "bqrf",
		Exporter:    "zipkin",
	}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, trace.ParentBased(trace.AlwaysSample()).Description(), telemetry.Sampler(0).Description())
	assert.Equal(t, trace.ParentBased(trace.AlwaysSample()).Description(), telemetry.Sampler(1).Description())
	assert.Equal(t, trace.ParentBased(trace.TraceIDRatioBased(0.25)).Description(), telemetry.Sampler(0.25).Description())
}

func TestHandler(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))

	h := telemetry.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, span := tp.Tracer("test").Start(r.Context(), "evaluate")
		span.End()

		w.WriteHeader(http.StatusOK)
	}), "remote-function")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "evaluate", recorder.Ended()[0].Name())
}
