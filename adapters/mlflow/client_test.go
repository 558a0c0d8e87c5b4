package mlflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mltrack/adapters/api"
	"mltrack/adapters/artifacts"
	"mltrack/adapters/sqlstore"
	"mltrack/domain/tracking"
	"mltrack/internal/config"
	"mltrack/internal/errors"
	"mltrack/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.TrackingStore = (*Client)(nil)
	_ ports.ModelRegistry = (*Client)(nil)
	_ artifacts.Doer      = (*Client)(nil)
)

func testConfig(uri string) config.TrackingConfig {
	return config.TrackingConfig{
		URI:         uri,
		MaxRetries:  2,
		Timeout:     5 * time.Second,
		BackoffBase: time.Millisecond,
	}
}

func newServerClient(t *testing.T) *Client {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), "sqlite://:memory:", "mlflow-artifacts:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewServer(store, artifacts.NewFileStore(t.TempDir()), api.Config{ServeArtifacts: true}))
	t.Cleanup(srv.Close)

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsNonHTTP(t *testing.T) {
	_, err := NewClient(testConfig("sqlite:///mlruns/mlflow.db"))
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestClientRoundTrip(t *testing.T) {
	client := newServerClient(t)
	ctx := context.Background()

	expID, err := client.CreateExperiment(ctx, "Chest-CT-Scan-Experiment", "", nil)
	require.NoError(t, err)

	exp, err := client.GetExperimentByName(ctx, "Chest-CT-Scan-Experiment")
	require.NoError(t, err)
	assert.Equal(t, expID, exp.ExperimentID)

	run, err := client.CreateRun(ctx, ports.CreateRunRequest{ExperimentID: expID})
	require.NoError(t, err)
	runID := run.Info.RunID
	assert.NotEmpty(t, run.Info.RunName)

	require.NoError(t, client.LogBatch(ctx, runID,
		[]tracking.Metric{{Key: "loss", Value: 0.25, Timestamp: 10}, {Key: "accuracy", Value: 0.9, Timestamp: 10}},
		[]tracking.Param{{Key: "BATCH_SIZE", Value: "16"}},
		nil))
	require.NoError(t, client.LogMetric(ctx, runID, tracking.Metric{Key: "loss", Value: 0.2, Timestamp: 11, Step: 1}))
	require.NoError(t, client.SetTag(ctx, runID, tracking.Tag{Key: "stage", Value: "evaluation"}))

	history, err := client.GetMetricHistory(ctx, runID, "loss")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	info, err := client.UpdateRun(ctx, ports.UpdateRunRequest{RunID: runID, Status: tracking.RunStatusFinished})
	require.NoError(t, err)
	assert.Equal(t, tracking.RunStatusFinished, info.Status)

	got, err := client.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Data.MetricMap()["loss"])
	assert.Equal(t, "16", got.Data.ParamMap()["BATCH_SIZE"])

	runs, err := client.SearchRuns(ctx, ports.SearchRunsRequest{ExperimentIDs: []string{expID}})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = client.GetRun(ctx, "0123456789abcdef0123456789abcdef")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestClientRegistry(t *testing.T) {
	client := newServerClient(t)
	ctx := context.Background()

	_, err := client.CreateRegisteredModel(ctx, "IrisRandomForestModel", "")
	require.NoError(t, err)
	v, err := client.CreateModelVersion(ctx, "IrisRandomForestModel", "runs:/abc/iris_model", "abc")
	require.NoError(t, err)
	assert.Equal(t, "1", v.Version)

	_, err = client.CreateRegisteredModel(ctx, "IrisRandomForestModel", "")
	assert.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"experiment_id":"7"}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	id, err := client.CreateExperiment(context.Background(), "retry", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.GetExperiment(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientSendsCredentials(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"experiments":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Token = "secret"
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.ListExperiments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)

	cfg.Token = ""
	cfg.Username, cfg.Password = "alice", "pw"
	client, err = NewClient(cfg)
	require.NoError(t, err)
	_, err = client.ListExperiments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Basic YWxpY2U6cHc=", gotAuth)
}

func TestClientUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)
	_, err = client.ListExperiments(context.Background())
	assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
}
