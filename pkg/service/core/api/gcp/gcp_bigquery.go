package gcp

import (
	"context"
	"errors"
	"strings"

	"github.com/navikt/bq-remote-functions/pkg/bq"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/navikt/bq-remote-functions/pkg/service"
)

type routineAPI struct {
	client bq.Operations
}

var _ service.RoutineAPI = &routineAPI{}

func (a *routineAPI) EnsureDataset(ctx context.Context, projectID, datasetID, location string) error {
	const op errs.Op = "routineAPI.EnsureDataset"

	err := a.client.CreateDatasetIfNotExists(ctx, projectID, datasetID, location)
	if err != nil {
		return errs.E(errs.IO, op, errs.Parameter(datasetID), err)
	}

	return nil
}

func (a *routineAPI) RunStatement(ctx context.Context, projectID, statement string) error {
	const op errs.Op = "routineAPI.RunStatement"

	_, err := a.client.QueryAndWait(ctx, projectID, statement)
	if err != nil {
		return errs.E(errs.IO, op, errs.Parameter(projectID), err)
	}

	return nil
}

func (a *routineAPI) ListRemoteRoutines(ctx context.Context, projectID, datasetID string) ([]*service.Routine, error) {
	const op errs.Op = "routineAPI.ListRemoteRoutines"

	raw, err := a.client.GetRoutines(ctx, projectID, datasetID)
	if err != nil {
		return nil, errs.E(errs.IO, op, errs.Parameter(datasetID), err)
	}

	routines := []*service.Routine{}

	for _, r := range raw {
		if !r.IsRemote() {
			continue
		}

		args := make([]service.RoutineArgument, len(r.Arguments))
		for i, a := range r.Arguments {
			args[i] = service.RoutineArgument{
				Name: a.Name,
				Type: remotefn.Type(a.Type),
			}
		}

		routines = append(routines, &service.Routine{
			ProjectID:          r.ProjectID,
			DatasetID:          r.DatasetID,
			RoutineID:          r.RoutineID,
			Function:           functionFor(r.Remote),
			Description:        r.Description,
			Arguments:          args,
			ReturnType:         remotefn.Type(r.ReturnType),
			Connection:         r.Remote.Connection,
			Endpoint:           r.Remote.Endpoint,
			MaxBatchingRows:    r.Remote.MaxBatchingRows,
			UserDefinedContext: r.Remote.UserDefinedContext,
			LastModified:       r.LastModified,
		})
	}

	return routines, nil
}

// functionFor names the function a remote routine calls, from its user
// defined context or from the endpoint path.
func functionFor(remote *bq.RemoteOptions) string {
	if fn, ok := remote.UserDefinedContext[service.UserDefinedContextFunction]; ok {
		return fn
	}

	if _, fn, ok := strings.Cut(remote.Endpoint, "/functions/"); ok {
		return strings.Trim(fn, "/")
	}

	return ""
}

func (a *routineAPI) DeleteRoutine(ctx context.Context, projectID, datasetID, routineID string) error {
	const op errs.Op = "routineAPI.DeleteRoutine"

	err := a.client.DeleteRoutine(ctx, projectID, datasetID, routineID)
	if err != nil {
		if errors.Is(err, bq.ErrNotExist) {
			return errs.E(errs.NotExist, op, errs.Parameter(routineID), err)
		}

		return errs.E(errs.IO, op, errs.Parameter(routineID), err)
	}

	return nil
}

func NewRoutineAPI(client bq.Operations) *routineAPI {
	return &routineAPI{
		client: client,
	}
}
