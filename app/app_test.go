package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"mltrack/domain/tracking"
	"mltrack/internal/cnn"
	"mltrack/internal/config"
	"mltrack/internal/errors"
	"mltrack/internal/tracker"
	"mltrack/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*tracker.Tracker, string) {
	t.Helper()
	root := t.TempDir()
	tr, err := tracker.New(context.Background(), config.TrackingConfig{URI: "sqlite://:memory:", ArtifactRoot: root})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, root
}

func runData(t *testing.T, tr *tracker.Tracker, runID string) (*tracking.Run, map[string]string, map[string]float64) {
	t.Helper()
	run, err := tr.Store().GetRun(context.Background(), runID)
	require.NoError(t, err)
	params := map[string]string{}
	for _, p := range run.Data.Params {
		params[p.Key] = p.Value
	}
	metrics := map[string]float64{}
	for _, m := range run.Data.Metrics {
		metrics[m.Key] = m.Value
	}
	return run, params, metrics
}

func artifactExists(t *testing.T, root, runID, name string) bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, "*", runID, "artifacts", name))
	require.NoError(t, err)
	return len(matches) == 1
}

func TestIrisExperiment(t *testing.T) {
	tr, root := newTracker(t)
	var out bytes.Buffer
	cfg := DefaultIrisConfig()
	cfg.OutDir = t.TempDir()

	result, err := NewIrisExperiment(tr, cfg, &out).Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Accuracy, 0.85)
	assert.Contains(t, out.String(), "Run completed!\nAccuracy: ")
	require.Len(t, result.ConfusionMatrix, 3)
	total := 0
	for _, row := range result.ConfusionMatrix {
		for _, v := range row {
			total += v
		}
	}
	assert.Equal(t, 30, total)

	run, params, metrics := runData(t, tr, result.RunID)
	assert.Equal(t, tracking.RunStatusFinished, run.Info.Status)
	assert.Equal(t, map[string]string{"n_estimators": "100", "max_depth": "5", "random_state": "42"}, params)
	assert.Equal(t, result.Accuracy, metrics["accuracy"])
	assert.Contains(t, metrics, "precision")
	assert.Contains(t, metrics, "recall")
	assert.Contains(t, metrics, "f1")

	exp, err := tr.Store().GetExperimentByName(context.Background(), "Iris_Classification_MLflow")
	require.NoError(t, err)
	assert.Equal(t, exp.ExperimentID, run.Info.ExperimentID)

	for _, name := range []string{"confusion_matrix.png", "dataset_profile.json", "classification_report.html", "iris_model/MLmodel", "iris_model/model.json"} {
		assert.True(t, artifactExists(t, root, result.RunID, name), name)
	}
	assert.FileExists(t, filepath.Join(cfg.OutDir, "confusion_matrix.png"))

	require.NotNil(t, result.Model)
	require.NotNil(t, result.Model.Version)
	assert.Equal(t, "1", result.Model.Version.Version)
	assert.Equal(t, "runs:/"+result.RunID+"/iris_model", result.Model.ModelURI)

	again, err := NewIrisExperiment(tr, cfg, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", again.Model.Version.Version)
	assert.Equal(t, result.Accuracy, again.Accuracy)
}

func TestIrisExperimentFromCSV(t *testing.T) {
	tr, _ := newTracker(t)
	path := filepath.Join(t.TempDir(), "flowers.csv")
	var csv bytes.Buffer
	csv.WriteString("petal,width,kind\n")
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			csv.WriteString("1.0,0.2,small\n")
		} else {
			csv.WriteString("5.0,2.0,large\n")
		}
	}
	require.NoError(t, os.WriteFile(path, csv.Bytes(), 0o644))

	cfg := DefaultIrisConfig()
	cfg.DataPath = path
	cfg.Target = "kind"
	cfg.NEstimators = 10
	cfg.ExperimentName = "flowers"
	cfg.RegisteredModelName = ""

	result, err := NewIrisExperiment(tr, cfg, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Accuracy)
	assert.Nil(t, result.Model.Version)
}

func TestIrisExperimentBadTestSize(t *testing.T) {
	tr, _ := newTracker(t)
	cfg := DefaultIrisConfig()
	cfg.TestSize = 1.5

	_, err := NewIrisExperiment(tr, cfg, &bytes.Buffer{}).Run(context.Background())
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))
}

// writeImages creates n solid 6x6 PNGs for each colour class
func writeImages(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	classes := map[string]color.RGBA{"adenocarcinoma": {R: 255, A: 255}, "normal": {B: 255, A: 255}}
	for name, c := range classes {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < n; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 6, 6))
			for p := 0; p < len(img.Pix); p += 4 {
				img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
			}
			f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
	return root
}

func evaluationFixture(t *testing.T) *EvaluationConfig {
	t.Helper()
	dir := t.TempDir()
	model, err := cnn.NewModel("colour", cnn.Shape{4, 4, 3},
		cnn.LayerSpec{Type: "globalaveragepooling2d"},
		cnn.LayerSpec{Type: "dense", Units: 2, Weights: []float64{5, 0, 0, 0, 0, 5}, Activation: cnn.Softmax},
	)
	require.NoError(t, err)
	modelPath := filepath.Join(dir, "model.json")
	require.NoError(t, model.SaveFile(modelPath))

	return &EvaluationConfig{
		PathOfModel:     modelPath,
		TrainingData:    writeImages(t, 10),
		AllParams:       map[string]interface{}{"IMAGE_SIZE": []interface{}{4, 4, 3}, "BATCH_SIZE": 4, "LEARNING_RATE": 0.01},
		ParamsImageSize: []int{4, 4, 3},
		ParamsBatchSize: 4,
		ScoresPath:      filepath.Join(dir, "scores.json"),
	}
}

func TestEvaluation(t *testing.T) {
	cfg := evaluationFixture(t)
	var out bytes.Buffer
	ev := NewEvaluation(cfg, &out)

	_, ok := ev.Score()
	assert.False(t, ok)

	require.NoError(t, ev.Evaluate(context.Background()))
	score, ok := ev.Score()
	require.True(t, ok)
	assert.Equal(t, 1.0, score.Accuracy)
	assert.Less(t, score.Loss, 0.01)

	saved, err := LoadJSON(cfg.ScoresPath)
	require.NoError(t, err)
	assert.Equal(t, score.Accuracy, saved["accuracy"])
	assert.InDelta(t, score.Loss, saved["loss"], 1e-12)

	tr, root := newTracker(t)
	require.NoError(t, ev.LogIntoTracker(context.Background(), tr))
	assert.Contains(t, out.String(), "Tracking URI: sqlite://:memory:\n")
	assert.Contains(t, out.String(), "Model successfully logged to MLflow.\n")

	exp, err := tr.Store().GetExperimentByName(context.Background(), EvaluationExperiment)
	require.NoError(t, err)
	runs, err := tr.Store().SearchRuns(context.Background(), ports.SearchRunsRequest{ExperimentIDs: []string{exp.ExperimentID}})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, params, metrics := runData(t, tr, runs[0].Info.RunID)
	assert.Equal(t, "[4, 4, 3]", params["IMAGE_SIZE"])
	assert.Equal(t, "4", params["BATCH_SIZE"])
	assert.Equal(t, "0.01", params["LEARNING_RATE"])
	assert.Equal(t, score.Loss, metrics["loss"])
	assert.True(t, artifactExists(t, root, runs[0].Info.RunID, "model/MLmodel"))
}

func TestEvaluationRequiresScore(t *testing.T) {
	ev := NewEvaluation(evaluationFixture(t), &bytes.Buffer{})
	tr, _ := newTracker(t)

	err := ev.LogIntoTracker(context.Background(), tr)
	assert.Equal(t, errors.CodeInvalidState, errors.GetCode(err))
	assert.Equal(t, errors.CodeInvalidState, errors.GetCode(ev.SaveScore()))
}

func TestEvaluationMissingModel(t *testing.T) {
	cfg := evaluationFixture(t)
	cfg.PathOfModel = filepath.Join(t.TempDir(), "nope.json")
	err := NewEvaluation(cfg, &bytes.Buffer{}).Evaluate(context.Background())
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}
