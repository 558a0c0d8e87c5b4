package mlflow

import (
	"context"
	"net/http"
	"net/url"

	"mltrack/adapters/api"
	"mltrack/domain/tracking"
	"mltrack/ports"
)

// CreateExperiment creates an experiment and returns its ID
func (c *Client) CreateExperiment(ctx context.Context, name, artifactLocation string, tags []tracking.Tag) (string, error) {
	var resp api.CreateExperimentResponse
	err := c.call(ctx, http.MethodPost, "/experiments/create", nil,
		api.CreateExperimentRequest{Name: name, ArtifactLocation: artifactLocation, Tags: tags}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

func (c *Client) GetExperiment(ctx context.Context, experimentID string) (*tracking.Experiment, error) {
	var resp api.ExperimentResponse
	q := url.Values{"experiment_id": {experimentID}}
	if err := c.call(ctx, http.MethodGet, "/experiments/get", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

func (c *Client) GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error) {
	var resp api.ExperimentResponse
	q := url.Values{"experiment_name": {name}}
	if err := c.call(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

func (c *Client) ListExperiments(ctx context.Context) ([]tracking.Experiment, error) {
	var resp api.SearchExperimentsResponse
	if err := c.call(ctx, http.MethodPost, "/experiments/search", nil, api.SearchExperimentsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Experiments, nil
}

func (c *Client) CreateRun(ctx context.Context, req ports.CreateRunRequest) (*tracking.Run, error) {
	var resp api.RunResponse
	err := c.call(ctx, http.MethodPost, "/runs/create", nil, api.CreateRunRequest{
		ExperimentID: req.ExperimentID,
		UserID:       req.UserID,
		RunName:      req.RunName,
		StartTime:    req.StartTime,
		Tags:         req.Tags,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*tracking.Run, error) {
	var resp api.RunResponse
	if err := c.call(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *Client) UpdateRun(ctx context.Context, req ports.UpdateRunRequest) (*tracking.RunInfo, error) {
	var resp api.UpdateRunResponse
	err := c.call(ctx, http.MethodPost, "/runs/update", nil, api.UpdateRunRequest{
		RunID:   req.RunID,
		Status:  req.Status,
		EndTime: req.EndTime,
		RunName: req.RunName,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.RunInfo, nil
}

func (c *Client) SearchRuns(ctx context.Context, req ports.SearchRunsRequest) ([]tracking.Run, error) {
	var resp api.SearchRunsResponse
	err := c.call(ctx, http.MethodPost, "/runs/search", nil, api.SearchRunsRequest{
		ExperimentIDs: req.ExperimentIDs,
		MaxResults:    req.MaxResults,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) LogParam(ctx context.Context, runID string, param tracking.Param) error {
	return c.call(ctx, http.MethodPost, "/runs/log-parameter", nil,
		api.LogParamRequest{RunID: runID, Key: param.Key, Value: param.Value}, nil)
}

func (c *Client) LogMetric(ctx context.Context, runID string, metric tracking.Metric) error {
	return c.call(ctx, http.MethodPost, "/runs/log-metric", nil,
		api.LogMetricRequest{RunID: runID, Metric: metric}, nil)
}

func (c *Client) SetTag(ctx context.Context, runID string, tag tracking.Tag) error {
	return c.call(ctx, http.MethodPost, "/runs/set-tag", nil,
		api.SetTagRequest{RunID: runID, Key: tag.Key, Value: tag.Value}, nil)
}

func (c *Client) LogBatch(ctx context.Context, runID string, metrics []tracking.Metric, params []tracking.Param, tags []tracking.Tag) error {
	return c.call(ctx, http.MethodPost, "/runs/log-batch", nil,
		api.LogBatchRequest{RunID: runID, Metrics: metrics, Params: params, Tags: tags}, nil)
}

func (c *Client) GetMetricHistory(ctx context.Context, runID, key string) ([]tracking.Metric, error) {
	var resp api.MetricHistoryResponse
	q := url.Values{"run_id": {runID}, "metric_key": {key}}
	if err := c.call(ctx, http.MethodGet, "/metrics/get-history", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

func (c *Client) CreateRegisteredModel(ctx context.Context, name, description string) (*tracking.RegisteredModel, error) {
	var resp api.RegisteredModelResponse
	err := c.call(ctx, http.MethodPost, "/registered-models/create", nil,
		api.CreateRegisteredModelRequest{Name: name, Description: description}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.RegisteredModel, nil
}

func (c *Client) GetRegisteredModel(ctx context.Context, name string) (*tracking.RegisteredModel, error) {
	var resp api.RegisteredModelResponse
	if err := c.call(ctx, http.MethodGet, "/registered-models/get", url.Values{"name": {name}}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.RegisteredModel, nil
}

func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (*tracking.ModelVersion, error) {
	var resp api.ModelVersionResponse
	err := c.call(ctx, http.MethodPost, "/model-versions/create", nil,
		api.CreateModelVersionRequest{Name: name, Source: source, RunID: runID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.ModelVersion, nil
}
