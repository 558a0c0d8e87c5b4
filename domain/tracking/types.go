package tracking

import (
	"sort"

	"mltrack/domain/core"
)

// DefaultExperimentID is the experiment runs land in when none is selected
const (
	DefaultExperimentID   = "0"
	DefaultExperimentName = "Default"
)

// LifecycleStage marks whether an entity is live or soft-deleted
type LifecycleStage string

const (
	LifecycleActive  LifecycleStage = "active"
	LifecycleDeleted LifecycleStage = "deleted"
)

// RunStatus is the state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

// IsTerminal reports whether no further logging is expected for the run
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusScheduled, RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return true
	}
	return false
}

// Well-known system tags
const (
	TagRunName         = "mlflow.runName"
	TagSourceName      = "mlflow.source.name"
	TagSourceType      = "mlflow.source.type"
	TagUser            = "mlflow.user"
	TagLogModelHistory = "mlflow.log-model.history"
)

// Experiment groups runs
type Experiment struct {
	ExperimentID     string         `json:"experiment_id" db:"experiment_id"`
	Name             string         `json:"name" db:"name"`
	ArtifactLocation string         `json:"artifact_location" db:"artifact_location"`
	LifecycleStage   LifecycleStage `json:"lifecycle_stage" db:"lifecycle_stage"`
	CreationTime     core.Millis    `json:"creation_time" db:"creation_time"`
	LastUpdateTime   core.Millis    `json:"last_update_time" db:"last_update_time"`
	Tags             []Tag          `json:"tags,omitempty" db:"-"`
}

// RunInfo is the metadata of a run
type RunInfo struct {
	RunID          string         `json:"run_id" db:"run_uuid"`
	RunName        string         `json:"run_name" db:"name"`
	ExperimentID   string         `json:"experiment_id" db:"experiment_id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Status         RunStatus      `json:"status" db:"status"`
	StartTime      core.Millis    `json:"start_time" db:"start_time"`
	EndTime        *core.Millis   `json:"end_time,omitempty" db:"end_time"`
	ArtifactURI    string         `json:"artifact_uri" db:"artifact_uri"`
	LifecycleStage LifecycleStage `json:"lifecycle_stage" db:"lifecycle_stage"`
}

// RunData holds the logged content of a run. Metrics carries the latest
// value per key.
type RunData struct {
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// Run is info plus data
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// Param is an immutable run input
type Param struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Metric is a single measured point
type Metric struct {
	Key       string      `json:"key" db:"key"`
	Value     float64     `json:"value" db:"value"`
	Timestamp core.Millis `json:"timestamp" db:"timestamp"`
	Step      int64       `json:"step" db:"step"`
}

// Tag is a mutable key/value annotation
type Tag struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// ParamMap returns the params as a map
func (d RunData) ParamMap() map[string]string {
	out := make(map[string]string, len(d.Params))
	for _, p := range d.Params {
		out[p.Key] = p.Value
	}
	return out
}

// MetricMap returns the latest metric values as a map
func (d RunData) MetricMap() map[string]float64 {
	out := make(map[string]float64, len(d.Metrics))
	for _, m := range d.Metrics {
		out[m.Key] = m.Value
	}
	return out
}

// TagMap returns the tags as a map
func (d RunData) TagMap() map[string]string {
	out := make(map[string]string, len(d.Tags))
	for _, t := range d.Tags {
		out[t.Key] = t.Value
	}
	return out
}

// SortedParams converts a map into params ordered by key
func SortedParams(m map[string]string) []Param {
	out := make([]Param, 0, len(m))
	for k, v := range m {
		out = append(out, Param{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RegisteredModel is a named entry in the model registry
type RegisteredModel struct {
	Name            string         `json:"name" db:"name"`
	Description     string         `json:"description,omitempty" db:"description"`
	CreationTime    core.Millis    `json:"creation_timestamp" db:"creation_time"`
	LastUpdatedTime core.Millis    `json:"last_updated_timestamp" db:"last_updated_time"`
	LatestVersions  []ModelVersion `json:"latest_versions,omitempty" db:"-"`
}

// ModelVersionStatus tracks registration progress
type ModelVersionStatus string

const (
	ModelVersionPendingRegistration ModelVersionStatus = "PENDING_REGISTRATION"
	ModelVersionFailedRegistration  ModelVersionStatus = "FAILED_REGISTRATION"
	ModelVersionReady               ModelVersionStatus = "READY"
)

// ModelVersion is one registered snapshot of a logged model
type ModelVersion struct {
	Name            string             `json:"name" db:"name"`
	Version         string             `json:"version" db:"version"`
	Source          string             `json:"source" db:"source"`
	RunID           string             `json:"run_id" db:"run_id"`
	Status          ModelVersionStatus `json:"status" db:"status"`
	CreationTime    core.Millis        `json:"creation_timestamp" db:"creation_time"`
	LastUpdatedTime core.Millis        `json:"last_updated_timestamp" db:"last_updated_time"`
}

// FileInfo describes an entry in a run's artifact tree
type FileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size,omitempty"`
}
