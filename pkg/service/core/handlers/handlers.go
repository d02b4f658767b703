package handlers

import (
	"net/http"

	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/navikt/bq-remote-functions/pkg/service/core/transport"
	"github.com/rs/zerolog"
)

type Endpoints struct {
	CallFunction      http.HandlerFunc
	CallFunctionNamed http.HandlerFunc
	ListFunctions     http.HandlerFunc
	IsAlive           http.HandlerFunc
	IsReady           http.HandlerFunc
}

func NewEndpoints(zlog zerolog.Logger, h *Handlers, maxRequestBytes int64) *Endpoints {
	return &Endpoints{
		CallFunction: transport.For(h.RemoteFunctionHandler.Call).
			RequestFrom(DecodeRemoteFunctionRequest).
			LimitBody(maxRequestBytes).
			Build(zlog),
		CallFunctionNamed: transport.For(h.RemoteFunctionHandler.CallNamed).
			RequestFrom(DecodeRemoteFunctionRequest).
			LimitBody(maxRequestBytes).
			Build(zlog),
		ListFunctions: transport.For(h.RemoteFunctionHandler.ListFunctions).Build(zlog),
		IsAlive:       transport.For(h.HealthHandler.IsAlive).Build(zlog),
		IsReady:       transport.For(h.HealthHandler.IsReady).Build(zlog),
	}
}

type Handlers struct {
	RemoteFunctionHandler *RemoteFunctionHandler
	HealthHandler         *HealthHandler
}

func NewHandlers(s *core.Services, readiness ...ReadinessCheck) *Handlers {
	return &Handlers{
		RemoteFunctionHandler: NewRemoteFunctionHandler(s.RemoteFunctionService),
		HealthHandler:         NewHealthHandler(readiness...),
	}
}
