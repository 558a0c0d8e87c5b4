package ports

import (
	"context"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
)

// CreateRunRequest carries the fields a new run is created with
type CreateRunRequest struct {
	ExperimentID string
	RunName      string
	UserID       string
	StartTime    core.Millis
	Tags         []tracking.Tag
}

// UpdateRunRequest changes run status and, optionally, end time and name
type UpdateRunRequest struct {
	RunID   string
	Status  tracking.RunStatus
	EndTime *core.Millis
	RunName string
}

// SearchRunsRequest selects runs from one or more experiments, newest first
type SearchRunsRequest struct {
	ExperimentIDs []string
	MaxResults    int
}

// TrackingStore defines the interface for experiment and run metadata storage.
// Implemented by the SQL store and by the REST client of a remote server.
type TrackingStore interface {
	CreateExperiment(ctx context.Context, name, artifactLocation string, tags []tracking.Tag) (string, error)
	GetExperiment(ctx context.Context, experimentID string) (*tracking.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error)
	ListExperiments(ctx context.Context) ([]tracking.Experiment, error)

	CreateRun(ctx context.Context, req CreateRunRequest) (*tracking.Run, error)
	GetRun(ctx context.Context, runID string) (*tracking.Run, error)
	UpdateRun(ctx context.Context, req UpdateRunRequest) (*tracking.RunInfo, error)
	SearchRuns(ctx context.Context, req SearchRunsRequest) ([]tracking.Run, error)

	LogParam(ctx context.Context, runID string, param tracking.Param) error
	LogMetric(ctx context.Context, runID string, metric tracking.Metric) error
	SetTag(ctx context.Context, runID string, tag tracking.Tag) error
	LogBatch(ctx context.Context, runID string, metrics []tracking.Metric, params []tracking.Param, tags []tracking.Tag) error
	GetMetricHistory(ctx context.Context, runID, key string) ([]tracking.Metric, error)
}

// ModelRegistry defines the interface for registered models and versions
type ModelRegistry interface {
	CreateRegisteredModel(ctx context.Context, name, description string) (*tracking.RegisteredModel, error)
	GetRegisteredModel(ctx context.Context, name string) (*tracking.RegisteredModel, error)
	CreateModelVersion(ctx context.Context, name, source, runID string) (*tracking.ModelVersion, error)
}
