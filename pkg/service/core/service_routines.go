package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/service"
)

var routineIDRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,255}$`)

var stringLiteralEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

type routineService struct {
	routineAPI service.RoutineAPI
	registry   *functions.Registry
}

var _ service.RoutineService = &routineService{}

func (s *routineService) Plan(manifest *service.Manifest) ([]*service.Routine, error) {
	const op errs.Op = "routineService.Plan"

	if manifest == nil {
		return nil, errs.E(errs.Invalid, op, fmt.Errorf("no manifest"))
	}

	err := manifest.Validate()
	if err != nil {
		return nil, errs.E(errs.Validation, op, err)
	}

	routing := manifest.Routing
	if routing == "" {
		routing = service.RoutingModeRoute
	}

	seen := map[string]bool{}
	routines := make([]*service.Routine, 0, len(manifest.Functions))

	for _, f := range manifest.Functions {
		def, err := s.registry.Lookup(f.Function)
		if err != nil {
			return nil, errs.E(op, err)
		}

		routineID := f.Name
		if routineID == "" {
			routineID = RoutineIDFor(def.Name)
		}

		if !routineIDRegexp.MatchString(routineID) {
			return nil, errs.E(errs.Validation, op, errs.Parameter("name"), fmt.Errorf("%q is not a valid routine id", routineID))
		}

		if seen[routineID] {
			return nil, errs.E(errs.Exist, op, errs.Parameter("name"), fmt.Errorf("routine %s is listed twice", routineID))
		}

		seen[routineID] = true

		udc := map[string]string{}
		for k, v := range f.UserDefinedContext {
			udc[k] = v
		}

		udc[service.UserDefinedContextFunction] = def.Name

		endpoint := strings.TrimRight(manifest.Endpoint, "/")
		if routing == service.RoutingModeRoute {
			endpoint += "/functions/" + def.Name
		}

		maxRows := manifest.MaxBatchingRows
		if f.MaxBatchingRows > 0 {
			maxRows = f.MaxBatchingRows
		}

		description := f.Description
		if description == "" {
			description = def.Description
		}

		args := make([]service.RoutineArgument, len(def.Arguments))
		for i, a := range def.Arguments {
			args[i] = service.RoutineArgument{
				Name: a.Name,
				Type: a.Type,
			}
		}

		routines = append(routines, &service.Routine{
			ProjectID:          manifest.Project,
			DatasetID:          manifest.Dataset,
			RoutineID:          routineID,
			Function:           def.Name,
			Description:        description,
			Arguments:          args,
			ReturnType:         def.ReturnType,
			Location:           manifest.Location,
			Connection:         manifest.Connection,
			Endpoint:           endpoint,
			MaxBatchingRows:    maxRows,
			UserDefinedContext: udc,
		})
	}

	return routines, nil
}

// RoutineIDFor turns a function name into a routine id.
func RoutineIDFor(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

func (s *routineService) DDL(routine *service.Routine) (string, error) {
	const op errs.Op = "routineService.DDL"

	if routine == nil {
		return "", errs.E(errs.Invalid, op, fmt.Errorf("no routine"))
	}

	if !routineIDRegexp.MatchString(routine.RoutineID) {
		return "", errs.E(errs.Validation, op, errs.Parameter("routine"), fmt.Errorf("%q is not a valid routine id", routine.RoutineID))
	}

	for _, a := range routine.Arguments {
		if err := a.Type.Validate(); err != nil {
			return "", errs.E(errs.Validation, op, errs.Parameter(a.Name), err)
		}
	}

	if err := routine.ReturnType.Validate(); err != nil {
		return "", errs.E(errs.Validation, op, errs.Parameter("returnType"), err)
	}

	args := make([]string, len(routine.Arguments))
	for i, a := range routine.Arguments {
		args[i] = fmt.Sprintf("%s %s", a.Name, a.Type)
	}

	options := []string{
		fmt.Sprintf("endpoint = %s", quote(routine.Endpoint)),
	}

	if routine.MaxBatchingRows > 0 {
		options = append(options, fmt.Sprintf("max_batching_rows = %d", routine.MaxBatchingRows))
	}

	if len(routine.UserDefinedContext) > 0 {
		keys := make([]string, 0, len(routine.UserDefinedContext))
		for k := range routine.UserDefinedContext {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("(%s, %s)", quote(k), quote(routine.UserDefinedContext[k]))
		}

		options = append(options, fmt.Sprintf("user_defined_context = [%s]", strings.Join(pairs, ", ")))
	}

	if routine.Description != "" {
		options = append(options, fmt.Sprintf("description = %s", quote(routine.Description)))
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "CREATE OR REPLACE FUNCTION `%s`(%s)\n", routine.FullyQualifiedName(), strings.Join(args, ", "))
	fmt.Fprintf(b, "RETURNS %s\n", routine.ReturnType)
	fmt.Fprintf(b, "REMOTE WITH CONNECTION `%s`\n", routine.Connection)
	fmt.Fprintf(b, "OPTIONS (\n  %s\n)", strings.Join(options, ",\n  "))

	return b.String(), nil
}

func quote(s string) string {
	return `"` + stringLiteralEscaper.Replace(s) + `"`
}

func (s *routineService) Deploy(ctx context.Context, manifest *service.Manifest) ([]*service.Routine, error) {
	const op errs.Op = "routineService.Deploy"

	routines, err := s.Plan(manifest)
	if err != nil {
		return nil, errs.E(op, err)
	}

	statements := make([]string, len(routines))
	for i, r := range routines {
		statements[i], err = s.DDL(r)
		if err != nil {
			return nil, errs.E(op, err)
		}
	}

	err = s.routineAPI.EnsureDataset(ctx, manifest.Project, manifest.Dataset, manifest.Location)
	if err != nil {
		return nil, errs.E(op, err)
	}

	for i, stmt := range statements {
		err := s.routineAPI.RunStatement(ctx, manifest.Project, stmt)
		if err != nil {
			return nil, errs.E(op, errs.Parameter(routines[i].RoutineID), err)
		}
	}

	return routines, nil
}

func (s *routineService) List(ctx context.Context, projectID, datasetID string) ([]*service.Routine, error) {
	const op errs.Op = "routineService.List"

	routines, err := s.routineAPI.ListRemoteRoutines(ctx, projectID, datasetID)
	if err != nil {
		return nil, errs.E(op, err)
	}

	return routines, nil
}

func (s *routineService) Delete(ctx context.Context, projectID, datasetID, routineID string) error {
	const op errs.Op = "routineService.Delete"

	if !routineIDRegexp.MatchString(routineID) {
		return errs.E(errs.Validation, op, errs.Parameter("routine"), fmt.Errorf("%q is not a valid routine id", routineID))
	}

	err := s.routineAPI.DeleteRoutine(ctx, projectID, datasetID, routineID)
	if err != nil {
		return errs.E(op, err)
	}

	return nil
}

func NewRoutineService(routineAPI service.RoutineAPI, registry *functions.Registry) *routineService {
	return &routineService{
		routineAPI: routineAPI,
		registry:   registry,
	}
}
