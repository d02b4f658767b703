package service

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
)

type RoutineAPI interface {
	EnsureDataset(ctx context.Context, projectID, datasetID, location string) error
	RunStatement(ctx context.Context, projectID, statement string) error
	ListRemoteRoutines(ctx context.Context, projectID, datasetID string) ([]*Routine, error)
	DeleteRoutine(ctx context.Context, projectID, datasetID, routineID string) error
}

type RoutineService interface {
	// Plan resolves every manifest entry against the registered functions.
	Plan(manifest *Manifest) ([]*Routine, error)
	DDL(routine *Routine) (string, error)
	Deploy(ctx context.Context, manifest *Manifest) ([]*Routine, error)
	List(ctx context.Context, projectID, datasetID string) ([]*Routine, error)
	Delete(ctx context.Context, projectID, datasetID, routineID string) error
}

type RoutingMode string

const (
	// RoutingModeRoute gives every routine its own endpoint path.
	RoutingModeRoute RoutingMode = "route"
	// RoutingModeContext points every routine at the root endpoint and names
	// the function in the user defined context.
	RoutingModeContext RoutingMode = "context"
)

var (
	identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	projectRegexp    = regexp.MustCompile(`^[a-z][a-z0-9.:-]{4,61}[a-z0-9]$`)
	connectionRegexp = regexp.MustCompile(`^[a-z][a-z0-9.:-]{4,61}[a-z0-9]\.[a-z0-9-]+\.[A-Za-z0-9_-]+$`)
)

// Manifest describes the routines to create for a deployed service.
type Manifest struct {
	Project         string             `yaml:"project"`
	Dataset         string             `yaml:"dataset"`
	Location        string             `yaml:"location"`
	Connection      string             `yaml:"connection"`
	Endpoint        string             `yaml:"endpoint"`
	Routing         RoutingMode        `yaml:"routing"`
	MaxBatchingRows int64              `yaml:"max_batching_rows"`
	Functions       []ManifestFunction `yaml:"functions"`
}

func (m Manifest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Project, validation.Required, validation.Match(projectRegexp)),
		validation.Field(&m.Dataset, validation.Required, validation.Length(1, 1024), validation.Match(identifierRegexp)),
		validation.Field(&m.Connection, validation.Required, validation.Match(connectionRegexp)),
		validation.Field(&m.Endpoint, validation.Required, is.RequestURL),
		validation.Field(&m.Routing, validation.In(RoutingModeRoute, RoutingModeContext, RoutingMode(""))),
		validation.Field(&m.MaxBatchingRows, validation.Min(int64(0))),
		validation.Field(&m.Functions, validation.Required),
	)
}

type ManifestFunction struct {
	// Function is the registered function name.
	Function string `yaml:"function"`
	// Name is the routine id, derived from Function when empty.
	Name               string            `yaml:"name"`
	Description        string            `yaml:"description"`
	MaxBatchingRows    int64             `yaml:"max_batching_rows"`
	UserDefinedContext map[string]string `yaml:"user_defined_context"`
}

func (f ManifestFunction) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Function, validation.Required),
		validation.Field(&f.MaxBatchingRows, validation.Min(int64(0))),
	)
}

type RoutineArgument struct {
	Name string        `json:"name"`
	Type remotefn.Type `json:"type"`
}

type Routine struct {
	ProjectID string `json:"projectID"`
	DatasetID string `json:"datasetID"`
	RoutineID string `json:"routineID"`

	Function           string            `json:"function,omitempty"`
	Description        string            `json:"description,omitempty"`
	Arguments          []RoutineArgument `json:"arguments"`
	ReturnType         remotefn.Type     `json:"returnType"`
	Location           string            `json:"location,omitempty"`
	Connection         string            `json:"connection"`
	Endpoint           string            `json:"endpoint"`
	MaxBatchingRows    int64             `json:"maxBatchingRows,omitempty"`
	UserDefinedContext map[string]string `json:"userDefinedContext,omitempty"`

	LastModified time.Time `json:"lastModified,omitempty"`
}

func (r *Routine) FullyQualifiedName() string {
	return r.ProjectID + "." + r.DatasetID + "." + r.RoutineID
}
