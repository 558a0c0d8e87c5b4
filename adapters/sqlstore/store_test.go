package sqlstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"mltrack/adapters/sqlstore/migrations"
	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/errors"
	"mltrack/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.TrackingStore = (*Store)(nil)
	_ ports.ModelRegistry = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite://:memory:", "file:///tmp/mlruns")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		uri    string
		driver string
		dsn    string
		ok     bool
	}{
		{"sqlite://:memory:", "sqlite", "file::memory:?_pragma=foreign_keys(1)", true},
		{"sqlite:///mlruns/mlflow.db", "sqlite", "mlruns/mlflow.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", true},
		{"sqlite:////var/lib/mlflow.db", "sqlite", "/var/lib/mlflow.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", true},
		{"postgres://u:p@localhost/mlflow?sslmode=disable", "postgres", "postgres://u:p@localhost/mlflow?sslmode=disable", true},
		{"mysql://localhost/db", "", "", false},
	}
	for _, tt := range tests {
		driver, dsn, err := ParseDSN(tt.uri)
		if !tt.ok {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.driver, driver)
		assert.Equal(t, tt.dsn, dsn)
	}
}

func TestDefaultExperimentExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exp, err := store.GetExperiment(ctx, tracking.DefaultExperimentID)
	require.NoError(t, err)
	assert.Equal(t, tracking.DefaultExperimentName, exp.Name)
	assert.Equal(t, "file:///tmp/mlruns/0", exp.ArtifactLocation)
}

func TestCreateExperiment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateExperiment(ctx, "Iris_Classification_MLflow", "", []tracking.Tag{{Key: "team", Value: "ml"}})
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	exp, err := store.GetExperimentByName(ctx, "Iris_Classification_MLflow")
	require.NoError(t, err)
	assert.Equal(t, id, exp.ExperimentID)
	assert.Equal(t, []tracking.Tag{{Key: "team", Value: "ml"}}, exp.Tags)

	_, err = store.CreateExperiment(ctx, "Iris_Classification_MLflow", "", nil)
	assert.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))

	id2, err := store.CreateExperiment(ctx, "second", "s3://bucket/exp", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", id2)

	exps, err := store.ListExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, exps, 3)
	assert.Equal(t, "s3://bucket/exp", exps[2].ArtifactLocation)

	_, err = store.GetExperimentByName(ctx, "missing")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, ports.CreateRunRequest{
		ExperimentID: tracking.DefaultExperimentID,
		RunName:      "baseline",
		Tags:         []tracking.Tag{{Key: tracking.TagUser, Value: "tester"}},
	})
	require.NoError(t, err)
	assert.Equal(t, tracking.RunStatusRunning, run.Info.Status)
	assert.Equal(t, "file:///tmp/mlruns/0/"+run.Info.RunID+"/artifacts", run.Info.ArtifactURI)

	runID := run.Info.RunID
	require.NoError(t, store.LogParam(ctx, runID, tracking.Param{Key: "n_estimators", Value: "100"}))
	require.NoError(t, store.LogParam(ctx, runID, tracking.Param{Key: "n_estimators", Value: "100"}))
	err = store.LogParam(ctx, runID, tracking.Param{Key: "n_estimators", Value: "200"})
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	require.NoError(t, store.LogMetric(ctx, runID, tracking.Metric{Key: "loss", Value: 0.9, Timestamp: 10, Step: 0}))
	require.NoError(t, store.LogMetric(ctx, runID, tracking.Metric{Key: "loss", Value: 0.5, Timestamp: 20, Step: 1}))
	require.NoError(t, store.LogMetric(ctx, runID, tracking.Metric{Key: "loss", Value: 0.7, Timestamp: 30, Step: 0}))
	require.NoError(t, store.SetTag(ctx, runID, tracking.Tag{Key: "stage", Value: "dev"}))

	got, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "baseline", got.Info.RunName)
	assert.Equal(t, "100", got.Data.ParamMap()["n_estimators"])
	assert.Equal(t, 0.5, got.Data.MetricMap()["loss"])
	assert.Equal(t, "dev", got.Data.TagMap()["stage"])
	assert.Equal(t, "tester", got.Data.TagMap()[tracking.TagUser])
	assert.Equal(t, "baseline", got.Data.TagMap()[tracking.TagRunName])

	history, err := store.GetMetricHistory(ctx, runID, "loss")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 0.9, history[0].Value)
	assert.Equal(t, 0.5, history[2].Value)

	end := core.Millis(1000)
	info, err := store.UpdateRun(ctx, ports.UpdateRunRequest{RunID: runID, Status: tracking.RunStatusFinished, EndTime: &end})
	require.NoError(t, err)
	assert.Equal(t, tracking.RunStatusFinished, info.Status)
	require.NotNil(t, info.EndTime)
	assert.Equal(t, end, *info.EndTime)

	_, err = store.UpdateRun(ctx, ports.UpdateRunRequest{RunID: runID, Status: "PAUSED"})
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	_, err = store.GetRun(ctx, "does-not-exist")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestLogMetricNaN(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, ports.CreateRunRequest{})
	require.NoError(t, err)
	require.NoError(t, store.LogMetric(ctx, run.Info.RunID, tracking.Metric{Key: "loss", Value: math.NaN(), Timestamp: 1}))

	got, err := store.GetRun(ctx, run.Info.RunID)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Data.MetricMap()["loss"]))
	assert.NotEmpty(t, got.Info.RunName)
}

func TestLogBatchIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, ports.CreateRunRequest{})
	require.NoError(t, err)
	runID := run.Info.RunID
	require.NoError(t, store.LogParam(ctx, runID, tracking.Param{Key: "lr", Value: "0.1"}))

	err = store.LogBatch(ctx, runID,
		[]tracking.Metric{{Key: "accuracy", Value: 0.9, Timestamp: 1}},
		[]tracking.Param{{Key: "lr", Value: "0.2"}},
		nil)
	require.Error(t, err)

	got, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, got.Data.Metrics)

	require.NoError(t, store.LogBatch(ctx, runID,
		[]tracking.Metric{{Key: "accuracy", Value: 0.9, Timestamp: 1}},
		[]tracking.Param{{Key: "max_depth", Value: "5"}},
		[]tracking.Tag{{Key: "note", Value: "ok"}}))

	got, err = store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Data.MetricMap()["accuracy"])
	assert.Equal(t, "5", got.Data.ParamMap()["max_depth"])
}

func TestSearchRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expID, err := store.CreateExperiment(ctx, "search", "", nil)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := store.CreateRun(ctx, ports.CreateRunRequest{ExperimentID: expID, StartTime: core.Millis(i * 100)})
		require.NoError(t, err)
	}
	_, err = store.CreateRun(ctx, ports.CreateRunRequest{})
	require.NoError(t, err)

	runs, err := store.SearchRuns(ctx, ports.SearchRunsRequest{ExperimentIDs: []string{expID}, MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, core.Millis(300), runs[0].Info.StartTime)
	assert.Equal(t, core.Millis(200), runs[1].Info.StartTime)
}

func TestModelRegistry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateModelVersion(ctx, "IrisRandomForestModel", "file:///a", "r1")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = store.CreateRegisteredModel(ctx, "IrisRandomForestModel", "")
	require.NoError(t, err)
	_, err = store.CreateRegisteredModel(ctx, "IrisRandomForestModel", "")
	assert.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))

	v1, err := store.CreateModelVersion(ctx, "IrisRandomForestModel", "file:///a", "r1")
	require.NoError(t, err)
	v2, err := store.CreateModelVersion(ctx, "IrisRandomForestModel", "file:///b", "r2")
	require.NoError(t, err)
	assert.Equal(t, "1", v1.Version)
	assert.Equal(t, "2", v2.Version)

	model, err := store.GetRegisteredModel(ctx, "IrisRandomForestModel")
	require.NoError(t, err)
	require.Len(t, model.LatestVersions, 1)
	assert.Equal(t, "2", model.LatestVersions[0].Version)
	assert.Equal(t, tracking.ModelVersionReady, model.LatestVersions[0].Status)
}

func TestMigrationsAppliedOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	migrator := migrations.NewMigrator(store.DB())
	require.NoError(t, migrator.Up(ctx))

	status, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "001", status[0].Version)
	assert.Equal(t, "002_model_registry.sql", status[1].Name)
	for _, s := range status {
		assert.True(t, s.Applied, s.Name)
	}

	var checksum string
	require.NoError(t, store.DB().GetContext(ctx, &checksum, "SELECT checksum FROM schema_migrations WHERE version = ?", "001"))
	content, err := os.ReadFile(filepath.Join("migrations", "001_initial_schema.sql"))
	require.NoError(t, err)
	assert.Equal(t, core.NewHash(content).String(), checksum)
}
