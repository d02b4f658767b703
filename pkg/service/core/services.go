package core

import "github.com/navikt/bq-remote-functions/pkg/service"

// Services are the ones served over HTTP. Routines are managed by the CLI.
type Services struct {
	RemoteFunctionService service.RemoteFunctionService
}

func NewServices(remoteFunctionService service.RemoteFunctionService) *Services {
	return &Services{
		RemoteFunctionService: remoteFunctionService,
	}
}
