package api

import (
	"encoding/json"

	"mltrack/domain/core"
	"mltrack/domain/tracking"
)

// Request and response bodies of the MLflow REST protocol. Shared with the
// REST client so both ends agree on field names.

type CreateExperimentRequest struct {
	Name             string         `json:"name"`
	ArtifactLocation string         `json:"artifact_location,omitempty"`
	Tags             []tracking.Tag `json:"tags,omitempty"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type ExperimentResponse struct {
	Experiment tracking.Experiment `json:"experiment"`
}

type SearchExperimentsRequest struct {
	MaxResults int `json:"max_results,omitempty"`
}

type SearchExperimentsResponse struct {
	Experiments []tracking.Experiment `json:"experiments"`
}

type CreateRunRequest struct {
	ExperimentID string         `json:"experiment_id"`
	UserID       string         `json:"user_id,omitempty"`
	RunName      string         `json:"run_name,omitempty"`
	StartTime    core.Millis    `json:"start_time,omitempty"`
	Tags         []tracking.Tag `json:"tags,omitempty"`
}

type RunResponse struct {
	Run tracking.Run `json:"run"`
}

type UpdateRunRequest struct {
	RunID   string             `json:"run_id"`
	Status  tracking.RunStatus `json:"status,omitempty"`
	EndTime *core.Millis       `json:"end_time,omitempty"`
	RunName string             `json:"run_name,omitempty"`
}

type UpdateRunResponse struct {
	RunInfo tracking.RunInfo `json:"run_info"`
}

type LogParamRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LogMetricRequest flattens the metric fields next to run_id
type LogMetricRequest struct {
	RunID  string
	Metric tracking.Metric
}

func (r LogMetricRequest) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Metric)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj["run_id"], err = json.Marshal(r.RunID); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func (r *LogMetricRequest) UnmarshalJSON(data []byte) error {
	var head struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var metric tracking.Metric
	if err := json.Unmarshal(data, &metric); err != nil {
		return err
	}
	r.RunID = head.RunID
	r.Metric = metric
	return nil
}

type SetTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type LogBatchRequest struct {
	RunID   string            `json:"run_id"`
	Metrics []tracking.Metric `json:"metrics,omitempty"`
	Params  []tracking.Param  `json:"params,omitempty"`
	Tags    []tracking.Tag    `json:"tags,omitempty"`
}

type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	MaxResults    int      `json:"max_results,omitempty"`
}

type SearchRunsResponse struct {
	Runs []tracking.Run `json:"runs"`
}

type MetricHistoryResponse struct {
	Metrics []tracking.Metric `json:"metrics"`
}

type CreateRegisteredModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type RegisteredModelResponse struct {
	RegisteredModel tracking.RegisteredModel `json:"registered_model"`
}

type CreateModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
}

type ModelVersionResponse struct {
	ModelVersion tracking.ModelVersion `json:"model_version"`
}

type ListArtifactsResponse struct {
	Files []tracking.FileInfo `json:"files"`
}
