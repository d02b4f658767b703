package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/navikt/bq-remote-functions/pkg/service"
)

type RemoteFunctionHandler struct {
	service service.RemoteFunctionService
}

// DecodeRemoteFunctionRequest reads the batch call envelope from the body.
func DecodeRemoteFunctionRequest(r *http.Request) (*remotefn.Request, error) {
	const op errs.Op = "handlers.DecodeRemoteFunctionRequest"

	req, err := remotefn.DecodeRequest(r.Body)
	if err != nil {
		if errors.Is(err, remotefn.ErrRequestTooBig) {
			return nil, errs.E(errs.TooLarge, op, err)
		}

		return nil, errs.E(errs.InvalidRequest, op, err)
	}

	return req, nil
}

// Call answers a batch for the function named in the user defined context.
func (h *RemoteFunctionHandler) Call(ctx context.Context, _ *http.Request, req *remotefn.Request) (*remotefn.Response, error) {
	return h.service.Call(ctx, "", req)
}

// CallNamed answers a batch for the function in the route.
func (h *RemoteFunctionHandler) CallNamed(ctx context.Context, _ *http.Request, req *remotefn.Request) (*remotefn.Response, error) {
	const op errs.Op = "RemoteFunctionHandler.CallNamed"

	name := chi.URLParamFromCtx(ctx, "name")
	if name == "" {
		return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("name"), errors.New("missing function name"))
	}

	return h.service.Call(ctx, name, req)
}

func (h *RemoteFunctionHandler) ListFunctions(ctx context.Context, _ *http.Request, _ any) (*service.FunctionList, error) {
	return h.service.ListFunctions(ctx)
}

func NewRemoteFunctionHandler(s service.RemoteFunctionService) *RemoteFunctionHandler {
	return &RemoteFunctionHandler{
		service: s,
	}
}
