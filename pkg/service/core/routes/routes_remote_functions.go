package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/navikt/bq-remote-functions/pkg/auth"
	"github.com/navikt/bq-remote-functions/pkg/service/core/handlers"
	"github.com/navikt/bq-remote-functions/pkg/telemetry"
)

type RemoteFunctionEndpoints struct {
	CallFunction      http.HandlerFunc
	CallFunctionNamed http.HandlerFunc
	ListFunctions     http.HandlerFunc
}

func NewRemoteFunctionEndpoints(endpoints *handlers.Endpoints) *RemoteFunctionEndpoints {
	return &RemoteFunctionEndpoints{
		CallFunction:      endpoints.CallFunction,
		CallFunctionNamed: endpoints.CallFunctionNamed,
		ListFunctions:     endpoints.ListFunctions,
	}
}

// NewRemoteFunctionRoutes mounts the batch endpoints. A nil authenticator
// leaves them open, which is what Cloud Run IAM expects when it already
// checks the invoker.
func NewRemoteFunctionRoutes(endpoints *RemoteFunctionEndpoints, authenticator auth.MiddlewareHandler) AddRoutesFn {
	return func(router chi.Router) {
		router.Group(func(r chi.Router) {
			if authenticator != nil {
				r.Use(authenticator)
			}

			r.Method(http.MethodPost, "/", telemetry.Handler(endpoints.CallFunction, "call"))
			r.Method(http.MethodPost, "/functions/{name}", telemetry.Handler(endpoints.CallFunctionNamed, "call_named"))
			r.Get("/api/functions", endpoints.ListFunctions)
		})
	}
}
