package handlers

import (
	"context"
	"net/http"

	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/service/core/transport"
)

// ReadinessCheck returns an error while a dependency is not ready to serve.
type ReadinessCheck func(ctx context.Context) error

type HealthHandler struct {
	checks []ReadinessCheck
}

func (h *HealthHandler) IsAlive(_ context.Context, _ *http.Request, _ any) (*transport.Text, error) {
	return transport.NewText("ok"), nil
}

func (h *HealthHandler) IsReady(ctx context.Context, _ *http.Request, _ any) (*transport.Text, error) {
	const op errs.Op = "HealthHandler.IsReady"

	for _, check := range h.checks {
		if err := check(ctx); err != nil {
			return nil, errs.E(errs.Unavailable, op, err)
		}
	}

	return transport.NewText("ok"), nil
}

func NewHealthHandler(checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}
