// Package bq wraps the BigQuery API calls used to deploy and inspect remote
// function routines.
package bq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ Operations = &Client{}

type Operations interface {
	GetDatasets(ctx context.Context, projectID string) ([]*Dataset, error)
	CreateDataset(ctx context.Context, projectID, datasetID, region string) error
	CreateDatasetIfNotExists(ctx context.Context, projectID, datasetID, region string) error
	GetRoutines(ctx context.Context, projectID, datasetID string) ([]*Routine, error)
	GetRoutine(ctx context.Context, projectID, datasetID, routineID string) (*Routine, error)
	DeleteRoutine(ctx context.Context, projectID, datasetID, routineID string) error
	QueryAndWait(ctx context.Context, projectID, query string) (*JobStatistics, error)
}

var (
	ErrExist    = errors.New("already exists")
	ErrNotExist = errors.New("not exists")
)

type Client struct {
	endpoint             string
	enableAuthentication bool
	log                  zerolog.Logger
}

type Dataset struct {
	ProjectID string
	DatasetID string
}

type RoutineArgument struct {
	Name string
	// Type is the standard SQL type kind, such as INT64.
	Type string
}

// RemoteOptions are set on routines created with REMOTE WITH CONNECTION.
type RemoteOptions struct {
	Endpoint           string
	Connection         string
	MaxBatchingRows    int64
	UserDefinedContext map[string]string
}

type Routine struct {
	ProjectID string
	DatasetID string
	RoutineID string

	Type        string
	Language    string
	Description string
	Arguments   []*RoutineArgument
	ReturnType  string
	Remote      *RemoteOptions

	LastModified time.Time
}

// IsRemote reports whether the routine is served by a remote endpoint.
func (r *Routine) IsRemote() bool {
	return r.Remote != nil
}

type JobStatistics struct {
	CreationTime        time.Time
	StartTime           time.Time
	EndTime             time.Time
	TotalBytesProcessed int64
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error

	return errors.As(err, &gerr) && gerr.Code == code
}

func (c *Client) GetDatasets(ctx context.Context, projectID string) ([]*Dataset, error) {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("datasets: %w", err)
	}
	defer client.Close()

	datasets := []*Dataset{}
	it := client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}

			return nil, fmt.Errorf("iterating datasets: %w", err)
		}

		datasets = append(datasets, &Dataset{
			ProjectID: ds.ProjectID,
			DatasetID: ds.DatasetID,
		})
	}

	return datasets, nil
}

func (c *Client) CreateDataset(ctx context.Context, projectID, datasetID, region string) error {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("creating dataset: %w", err)
	}
	defer client.Close()

	meta := &bigquery.DatasetMetadata{
		Location: region,
	}

	err = client.Dataset(datasetID).Create(ctx, meta)
	if err != nil {
		if isStatus(err, http.StatusConflict) {
			return ErrExist
		}

		return fmt.Errorf("creating dataset %s.%s: %w", projectID, datasetID, err)
	}

	return nil
}

func (c *Client) CreateDatasetIfNotExists(ctx context.Context, projectID, datasetID, region string) error {
	err := c.CreateDataset(ctx, projectID, datasetID, region)
	if errors.Is(err, ErrExist) {
		return nil
	}

	return err
}

func typeKind(t *bigquery.StandardSQLDataType) string {
	if t == nil {
		return ""
	}

	return t.TypeKind
}

func routineFromMetadata(projectID, datasetID, routineID string, meta *bigquery.RoutineMetadata) *Routine {
	r := &Routine{
		ProjectID:    projectID,
		DatasetID:    datasetID,
		RoutineID:    routineID,
		Type:         meta.Type,
		Language:     meta.Language,
		Description:  meta.Description,
		ReturnType:   typeKind(meta.ReturnType),
		LastModified: meta.LastModifiedTime,
	}

	for _, a := range meta.Arguments {
		r.Arguments = append(r.Arguments, &RoutineArgument{
			Name: a.Name,
			Type: typeKind(a.DataType),
		})
	}

	if o := meta.RemoteFunctionOptions; o != nil {
		r.Remote = &RemoteOptions{
			Endpoint:           o.Endpoint,
			Connection:         o.Connection,
			MaxBatchingRows:    o.MaxBatchingRows,
			UserDefinedContext: o.UserDefinedContext,
		}
	}

	return r
}

func (c *Client) GetRoutine(ctx context.Context, projectID, datasetID, routineID string) (*Routine, error) {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("routine: %w", err)
	}
	defer client.Close()

	return c.getRoutineWithMetadata(ctx, client, datasetID, routineID)
}

func (c *Client) getRoutineWithMetadata(ctx context.Context, client *bigquery.Client, datasetID, routineID string) (*Routine, error) {
	meta, err := client.Dataset(datasetID).Routine(routineID).Metadata(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrNotExist
		}

		return nil, fmt.Errorf("getting routine metadata %s.%s: %w", datasetID, routineID, err)
	}

	return routineFromMetadata(client.Project(), datasetID, routineID, meta), nil
}

// GetRoutines returns the routines of a dataset sorted by id.
func (c *Client) GetRoutines(ctx context.Context, projectID, datasetID string) ([]*Routine, error) {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("routines: %w", err)
	}
	defer client.Close()

	routines := []*Routine{}
	it := client.Dataset(datasetID).Routines(ctx)
	for {
		r, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}

			if isStatus(err, http.StatusNotFound) {
				return nil, ErrNotExist
			}

			return nil, fmt.Errorf("iterating routines: %w", err)
		}

		routine, err := c.getRoutineWithMetadata(ctx, client, datasetID, r.RoutineID)
		if err != nil {
			return nil, err
		}

		routines = append(routines, routine)
	}

	sort.Slice(routines, func(i, j int) bool {
		return routines[i].RoutineID < routines[j].RoutineID
	})

	return routines, nil
}

func (c *Client) DeleteRoutine(ctx context.Context, projectID, datasetID, routineID string) error {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("deleting routine: %w", err)
	}
	defer client.Close()

	err = client.Dataset(datasetID).Routine(routineID).Delete(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ErrNotExist
		}

		return fmt.Errorf("deleting routine %s.%s.%s: %w", projectID, datasetID, routineID, err)
	}

	return nil
}

func (c *Client) QueryAndWait(ctx context.Context, projectID, query string) (*JobStatistics, error) {
	client, err := c.clientFromProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("query and wait: %w", err)
	}
	defer client.Close()

	c.log.Debug().Str("project", projectID).Msg("running query")

	job, err := client.Query(query).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for query: %w", err)
	}

	err = status.Err()
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var stats *JobStatistics
	if status.Statistics != nil {
		stats = &JobStatistics{
			CreationTime:        status.Statistics.CreationTime,
			StartTime:           status.Statistics.StartTime,
			EndTime:             status.Statistics.EndTime,
			TotalBytesProcessed: status.Statistics.TotalBytesProcessed,
		}
	}

	return stats, nil
}

func (c *Client) clientFromProject(ctx context.Context, project string) (*bigquery.Client, error) {
	var options []option.ClientOption

	if c.endpoint != "" {
		options = append(options, option.WithEndpoint(c.endpoint))
	}

	if !c.enableAuthentication {
		options = append(options, option.WithoutAuthentication())
	}

	client, err := bigquery.NewClient(ctx, project, options...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client for project %s: %w", project, err)
	}

	return client, nil
}

func NewClient(endpoint string, enableAuthentication bool, log zerolog.Logger) *Client {
	return &Client{
		endpoint:             endpoint,
		enableAuthentication: enableAuthentication,
		log:                  log,
	}
}
