package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/navikt/bq-remote-functions/pkg/service/core/handlers"
)

type HealthEndpoints struct {
	IsAlive http.HandlerFunc
	IsReady http.HandlerFunc
}

func NewHealthEndpoints(endpoints *handlers.Endpoints) *HealthEndpoints {
	return &HealthEndpoints{
		IsAlive: endpoints.IsAlive,
		IsReady: endpoints.IsReady,
	}
}

func NewHealthRoutes(endpoints *HealthEndpoints) AddRoutesFn {
	return func(router chi.Router) {
		router.Route("/internal", func(r chi.Router) {
			r.Get("/isalive", endpoints.IsAlive)
			r.Get("/isready", endpoints.IsReady)
		})
	}
}
