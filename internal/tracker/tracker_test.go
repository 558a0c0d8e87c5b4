package tracker

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mltrack/adapters/api"
	"mltrack/adapters/artifacts"
	"mltrack/adapters/sqlstore"
	"mltrack/domain/core"
	"mltrack/domain/tracking"
	"mltrack/internal/config"
	apperrors "mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type stubModel struct {
	payload string
}

func (m stubModel) Flavor() string   { return "go_stub" }
func (m stubModel) FileName() string { return "model.json" }
func (m stubModel) SaveFile(path string) error {
	return os.WriteFile(path, []byte(m.payload), 0o644)
}

func newLocalTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), config.TrackingConfig{
		URI:          "sqlite://:memory:",
		ArtifactRoot: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func newRemoteTracker(t *testing.T) *Tracker {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), "sqlite://:memory:", "mlflow-artifacts:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewServer(store, artifacts.NewFileStore(t.TempDir()), api.Config{ServeArtifacts: true}))
	t.Cleanup(srv.Close)

	tr, err := New(context.Background(), config.TrackingConfig{
		URI:         srv.URL,
		MaxRetries:  1,
		Timeout:     5 * time.Second,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)
	return tr
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New(context.Background(), config.TrackingConfig{URI: "ftp://host/mlruns"})
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestSetExperimentGetOrCreate(t *testing.T) {
	tr := newLocalTracker(t)
	ctx := context.Background()

	assert.Equal(t, tracking.DefaultExperimentID, tr.ExperimentID())

	exp, err := tr.SetExperiment(ctx, "Iris_Classification_MLflow")
	require.NoError(t, err)
	assert.Equal(t, exp.ExperimentID, tr.ExperimentID())

	again, err := tr.SetExperiment(ctx, "Iris_Classification_MLflow")
	require.NoError(t, err)
	assert.Equal(t, exp.ExperimentID, again.ExperimentID)
}

func TestRunLogsEverything(t *testing.T) {
	for name, newTracker := range map[string]func(*testing.T) *Tracker{
		"local":  newLocalTracker,
		"remote": newRemoteTracker,
	} {
		t.Run(name, func(t *testing.T) {
			tr := newTracker(t)
			ctx := context.Background()
			_, err := tr.SetExperiment(ctx, "Iris_Classification_MLflow")
			require.NoError(t, err)

			local := filepath.Join(t.TempDir(), "confusion_matrix.png")
			require.NoError(t, os.WriteFile(local, []byte("png"), 0o644))

			var runID string
			var info *ModelInfo
			err = tr.Run(ctx, func(ctx context.Context, run *ActiveRun) error {
				runID = run.ID()
				require.NoError(t, run.LogParams(ctx, map[string]interface{}{
					"n_estimators": 100, "max_depth": 5, "random_state": 42,
				}))
				require.NoError(t, run.LogMetric(ctx, "accuracy", 1.0))
				require.NoError(t, run.LogMetrics(ctx, map[string]float64{"precision": 1, "recall": 1}))
				require.NoError(t, run.LogArtifact(ctx, local, ""))

				var err error
				info, err = run.LogModel(ctx, stubModel{payload: `{"trees":[]}`}, "iris_model", "IrisRandomForestModel")
				return err
			})
			require.NoError(t, err)

			got, err := tr.Store().GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, tracking.RunStatusFinished, got.Info.Status)
			assert.Equal(t, map[string]string{"n_estimators": "100", "max_depth": "5", "random_state": "42"}, got.Data.ParamMap())
			assert.Equal(t, map[string]float64{"accuracy": 1, "precision": 1, "recall": 1}, got.Data.MetricMap())
			assert.Contains(t, got.Data.TagMap(), tracking.TagLogModelHistory)

			require.NotNil(t, info.Version)
			assert.Equal(t, "1", info.Version.Version)
			assert.Equal(t, "runs:/"+runID+"/iris_model", info.ModelURI)
			assert.Equal(t, got.Info.ArtifactURI+"/iris_model", info.Version.Source)

			repo, err := artifacts.NewRepository(got.Info.ArtifactURI, tr.baseURL, tr.doer)
			require.NoError(t, err)
			run := newActiveRun(tr, got.Info, repo)

			files, err := run.ListArtifacts(ctx, "iris_model")
			require.NoError(t, err)
			var names []string
			for _, f := range files {
				names = append(names, f.Path)
			}
			assert.ElementsMatch(t, []string{"iris_model/MLmodel", "iris_model/model.json"}, names)

			dst := filepath.Join(t.TempDir(), "MLmodel")
			require.NoError(t, run.DownloadArtifact(ctx, "iris_model/MLmodel", dst))
			raw, err := os.ReadFile(dst)
			require.NoError(t, err)
			var descriptor MLmodel
			require.NoError(t, yaml.Unmarshal(raw, &descriptor))
			assert.Equal(t, runID, descriptor.RunID)
			assert.Equal(t, "model.json", descriptor.Flavors["go_stub"]["data"])
			assert.Equal(t, core.NewHash([]byte(`{"trees":[]}`)).String(), descriptor.Flavors["go_stub"]["sha256"])
		})
	}
}

func TestRunMarksFailure(t *testing.T) {
	tr := newLocalTracker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var runID string
	err := tr.Run(ctx, func(ctx context.Context, run *ActiveRun) error {
		runID = run.ID()
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := tr.Store().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, tracking.RunStatusFailed, got.Info.Status)
}

func TestRunMarksPanicAsFailed(t *testing.T) {
	tr := newLocalTracker(t)
	ctx := context.Background()

	var runID string
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = tr.Run(ctx, func(ctx context.Context, run *ActiveRun) error {
			runID = run.ID()
			panic("kaboom")
		})
	})

	got, err := tr.Store().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, tracking.RunStatusFailed, got.Info.Status)
}

func TestLoggingAfterEndFails(t *testing.T) {
	tr := newLocalTracker(t)
	ctx := context.Background()

	run, err := tr.StartRun(ctx, WithRunName("short"))
	require.NoError(t, err)
	assert.Equal(t, "short", run.Info().RunName)
	require.NoError(t, run.End(ctx, tracking.RunStatusFinished))
	require.NoError(t, run.End(ctx, tracking.RunStatusFinished))

	err = run.LogMetric(ctx, "loss", 0.1)
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.GetCode(err))

	err = run.End(ctx, tracking.RunStatusRunning)
	assert.Equal(t, apperrors.CodeInvalidParameterValue, apperrors.GetCode(err))
}

func TestRunAccessorsWhileEnding(t *testing.T) {
	tr := newLocalTracker(t)
	ctx := context.Background()

	run, err := tr.StartRun(ctx)
	require.NoError(t, err)
	id, root := run.ID(), run.ArtifactURI()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, id, run.ID())
				assert.Equal(t, root, run.ArtifactURI())
			}
		}()
	}
	require.NoError(t, run.End(ctx, tracking.RunStatusKilled))
	wg.Wait()
	assert.Equal(t, tracking.RunStatusKilled, run.Info().Status)
}

func TestFormatParam(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"adam", "adam"},
		{16, "16"},
		{0.01, "0.01"},
		{1.0, "1.0"},
		{true, "True"},
		{nil, "None"},
		{[]interface{}{224, 224, 3}, "[224, 224, 3]"},
		{[]interface{}{"a", 1.5}, "['a', 1.5]"},
		{map[string]interface{}{"b": 2, "a": "x"}, "{'a': 'x', 'b': 2}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatParam(tt.in))
	}
}
