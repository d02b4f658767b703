// Package emulator runs the goccy BigQuery emulator for tests. Endpoints the
// emulator lacks, such as remote function routines, can be mocked in front
// of it.
package emulator

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"testing"

	"github.com/go-chi/chi"
	"github.com/goccy/bigquery-emulator/server"
	"github.com/goccy/bigquery-emulator/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	bqv2 "google.golang.org/api/bigquery/v2"
)

type Emulator struct {
	testServer *server.TestServer
	emulator   *server.Server
	t          *testing.T
}

type EndpointMock struct {
	Path    string
	Method  string
	Handler http.HandlerFunc
}

func (e *Emulator) EnableMock(debugRequest bool, log zerolog.Logger, mocks ...*EndpointMock) {
	handler := e.emulator.Handler

	router := chi.NewRouter()

	dump := func(r *http.Request) {
		if !debugRequest {
			return
		}

		request, err := httputil.DumpRequest(r, true)
		if err != nil {
			log.Error().Err(err).Msg("dumping request")
			return
		}

		fmt.Println(string(request))
	}

	for _, mock := range mocks {
		log.Debug().Msgf("adding mock endpoint: %s %s", mock.Method, mock.Path)

		h := mock.Handler
		router.MethodFunc(mock.Method, mock.Path, func(w http.ResponseWriter, r *http.Request) {
			dump(r)
			h(w, r)
		})
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msgf("no mocked endpoint, forwarding to emulator: %s", r.URL.Path)
		dump(r)
		handler.ServeHTTP(w, r)
	})

	e.emulator.Handler = router

	if e.testServer != nil {
		e.testServer.Close()
	}

	e.testServer = e.emulator.TestServer()
}

func (e *Emulator) Cleanup() {
	if e.testServer != nil {
		e.testServer.Close()
	}
}

func (e *Emulator) Endpoint() string {
	return e.testServer.URL
}

// WithProject loads a project holding empty datasets.
func (e *Emulator) WithProject(projectID string, datasetIDs ...string) {
	p := &types.Project{
		ID: projectID,
	}

	for _, id := range datasetIDs {
		p.Datasets = append(p.Datasets, &types.Dataset{ID: id})
	}

	e.WithSource(p.ID, server.StructSource(p))
}

func (e *Emulator) WithSource(projectID string, source server.Source) {
	err := e.emulator.Load(source)
	if err != nil {
		e.t.Fatalf("initializing bigquery emulator: %v", err)
	}

	if err := e.emulator.SetProject(projectID); err != nil {
		e.t.Fatalf("setting project: %v", err)
	}

	if e.testServer != nil {
		e.testServer.Close()
	}

	e.testServer = e.emulator.TestServer()
}

func New(t *testing.T) *Emulator {
	t.Helper()

	s, err := server.New(server.TempStorage)
	if err != nil {
		t.Fatalf("creating bigquery emulator: %v", err)
	}

	return &Emulator{
		t:        t,
		emulator: s,
	}
}

func writeJSON(log zerolog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding mock response")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func routinesPath(projectID, datasetID string) string {
	return fmt.Sprintf("/projects/%s/datasets/%s/routines", projectID, datasetID)
}

// RemoteRoutine builds the API representation of a remote function routine.
func RemoteRoutine(projectID, datasetID, routineID, endpoint, connection string, maxBatchingRows int64, udc map[string]string, argTypes []string, returnType string) *bqv2.Routine {
	r := &bqv2.Routine{
		RoutineReference: &bqv2.RoutineReference{
			ProjectId: projectID,
			DatasetId: datasetID,
			RoutineId: routineID,
		},
		RoutineType:      "SCALAR_FUNCTION",
		LastModifiedTime: 1700000000000,
		ReturnType:       &bqv2.StandardSqlDataType{TypeKind: returnType},
		RemoteFunctionOptions: &bqv2.RemoteFunctionOptions{
			Endpoint:           endpoint,
			Connection:         connection,
			MaxBatchingRows:    maxBatchingRows,
			UserDefinedContext: udc,
		},
	}

	for i, t := range argTypes {
		r.Arguments = append(r.Arguments, &bqv2.Argument{
			Name:     fmt.Sprintf("arg%d", i),
			DataType: &bqv2.StandardSqlDataType{TypeKind: t},
		})
	}

	return r
}

// RoutinesListMock answers routines.list for the dataset. The client fetches
// each routine again through RoutineGetMock.
func RoutinesListMock(log zerolog.Logger, projectID, datasetID string, routines ...*bqv2.Routine) *EndpointMock {
	return &EndpointMock{
		Method: http.MethodGet,
		Path:   routinesPath(projectID, datasetID),
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			refs := make([]*bqv2.Routine, len(routines))
			for i, r := range routines {
				refs[i] = &bqv2.Routine{
					RoutineReference: r.RoutineReference,
					RoutineType:      r.RoutineType,
				}
			}

			writeJSON(log, w, &bqv2.ListRoutinesResponse{Routines: refs})
		},
	}
}

func RoutineGetMock(log zerolog.Logger, routine *bqv2.Routine) *EndpointMock {
	ref := routine.RoutineReference

	return &EndpointMock{
		Method: http.MethodGet,
		Path:   routinesPath(ref.ProjectId, ref.DatasetId) + "/" + ref.RoutineId,
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(log, w, routine)
		},
	}
}

// RoutineDeleteMock records the deletion in deleted.
func RoutineDeleteMock(projectID, datasetID, routineID string, deleted *bool) *EndpointMock {
	return &EndpointMock{
		Method: http.MethodDelete,
		Path:   routinesPath(projectID, datasetID) + "/" + routineID,
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			*deleted = true
			w.WriteHeader(http.StatusNoContent)
		},
	}
}

// ErrorMock answers with a Google API error envelope.
func ErrorMock(log zerolog.Logger, method, path string, code int) *EndpointMock {
	return &EndpointMock{
		Method: method,
		Path:   path,
		Handler: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)

			err := json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    code,
					"message": http.StatusText(code),
				},
			})
			if err != nil {
				log.Error().Err(err).Msg("encoding mock error")
			}
		},
	}
}
