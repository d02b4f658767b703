package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsEndpoints struct {
	GetMetrics http.Handler
}

// NewMetricsEndpoints serves the collectors in promReg, including the batch
// metrics registered by the remote function service.
func NewMetricsEndpoints(promReg *prometheus.Registry) *MetricsEndpoints {
	return &MetricsEndpoints{
		GetMetrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{
			Registry:          promReg,
			EnableOpenMetrics: true,
		}),
	}
}

func NewMetricsRoutes(endpoints *MetricsEndpoints) AddRoutesFn {
	return func(router chi.Router) {
		router.Method(http.MethodGet, "/internal/metrics", endpoints.GetMetrics)
	}
}
