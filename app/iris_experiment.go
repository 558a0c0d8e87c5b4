package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"mltrack/adapters/excel"
	"mltrack/domain/dataset"
	"mltrack/internal"
	"mltrack/internal/errors"
	"mltrack/internal/forest"
	"mltrack/internal/metrics"
	"mltrack/internal/plot"
	"mltrack/internal/profiling"
	"mltrack/internal/report"
	"mltrack/internal/split"
	"mltrack/internal/tracker"
)

// IrisConfig holds the hyperparameters and inputs of the Iris run
type IrisConfig struct {
	NEstimators int
	MaxDepth    int
	RandomState int64
	TestSize    float64

	// DataPath is an optional CSV or XLSX file; empty uses the bundled Iris data
	DataPath string
	Target   string
	// OutDir receives the rendered artifacts; empty uses a temporary directory
	OutDir string

	ExperimentName      string
	RegisteredModelName string
}

// DefaultIrisConfig returns the reference settings
func DefaultIrisConfig() IrisConfig {
	return IrisConfig{
		NEstimators:         100,
		MaxDepth:            5,
		RandomState:         42,
		TestSize:            0.2,
		Target:              "species",
		ExperimentName:      "Iris_Classification_MLflow",
		RegisteredModelName: "IrisRandomForestModel",
	}
}

// IrisResult summarises a finished run
type IrisResult struct {
	RunID           string
	Accuracy        float64
	Precision       float64
	Recall          float64
	F1              float64
	ConfusionMatrix [][]int
	Model           *tracker.ModelInfo
}

// IrisExperiment trains a random forest on Iris and records the run
type IrisExperiment struct {
	tracker *tracker.Tracker
	config  IrisConfig
	out     io.Writer
	logger  *internal.Logger
}

// NewIrisExperiment creates the experiment; user-facing lines go to out
func NewIrisExperiment(t *tracker.Tracker, cfg IrisConfig, out io.Writer) *IrisExperiment {
	if out == nil {
		out = os.Stdout
	}
	return &IrisExperiment{tracker: t, config: cfg, out: out, logger: internal.DefaultLogger.With("iris")}
}

func (e *IrisExperiment) loadDataset() (*dataset.Dataset, error) {
	if e.config.DataPath == "" {
		return dataset.LoadIris()
	}
	return excel.LoadDataset(e.config.DataPath, e.config.Target)
}

func (e *IrisExperiment) outDir() (string, func(), error) {
	if e.config.OutDir != "" {
		if err := os.MkdirAll(e.config.OutDir, 0o755); err != nil {
			return "", nil, errors.Wrapf(err, "failed to create %s", e.config.OutDir)
		}
		return e.config.OutDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "iris-run-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create artifact staging directory")
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Run loads the data, splits it, then inside one tracked run logs the
// hyperparameters, fits the forest, logs test metrics, the confusion
// matrix plot, the dataset profile, an HTML report and the model
func (e *IrisExperiment) Run(ctx context.Context) (*IrisResult, error) {
	ds, err := e.loadDataset()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load dataset")
	}
	train, test, err := split.TrainTestSplit(ds.Len(), e.config.TestSize, e.config.RandomState)
	if err != nil {
		return nil, err
	}
	trainSet, testSet := ds.Subset(train), ds.Subset(test)
	e.logger.Info("split %d samples into %d train / %d test", ds.Len(), len(train), len(test))

	if _, err := e.tracker.SetExperiment(ctx, e.config.ExperimentName); err != nil {
		return nil, err
	}

	dir, cleanup, err := e.outDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := &IrisResult{}
	err = e.tracker.Run(ctx, func(ctx context.Context, run *tracker.ActiveRun) error {
		result.RunID = run.ID()

		if err := run.LogParam(ctx, "n_estimators", e.config.NEstimators); err != nil {
			return err
		}
		if err := run.LogParam(ctx, "max_depth", e.config.MaxDepth); err != nil {
			return err
		}
		if err := run.LogParam(ctx, "random_state", e.config.RandomState); err != nil {
			return err
		}

		model := forest.NewRandomForest(
			forest.WithNEstimators(e.config.NEstimators),
			forest.WithMaxDepth(e.config.MaxDepth),
			forest.WithRandomState(e.config.RandomState),
		)
		if err := model.Fit(ctx, trainSet.X, trainSet.Y); err != nil {
			return errors.Wrap(err, "failed to fit random forest")
		}
		pred, err := model.Predict(testSet.X)
		if err != nil {
			return err
		}

		if err := e.score(testSet.Y, pred, result); err != nil {
			return err
		}
		if err := run.LogMetrics(ctx, map[string]float64{
			"accuracy":  result.Accuracy,
			"precision": result.Precision,
			"recall":    result.Recall,
			"f1":        result.F1,
		}); err != nil {
			return err
		}

		if err := e.logFigures(ctx, run, ds, dir, testSet.Y, pred, result); err != nil {
			return err
		}

		info, err := run.LogModel(ctx, model, "iris_model", e.config.RegisteredModelName)
		if err != nil {
			return err
		}
		result.Model = info
		return nil
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(e.out, "Run completed!")
	fmt.Fprintf(e.out, "Accuracy: %.4f\n", result.Accuracy)
	return result, nil
}

func (e *IrisExperiment) score(ytest, pred []int, result *IrisResult) error {
	var err error
	if result.Accuracy, err = metrics.Accuracy(ytest, pred); err != nil {
		return err
	}
	if result.Precision, err = metrics.PrecisionScore(ytest, pred, metrics.Weighted); err != nil {
		return err
	}
	if result.Recall, err = metrics.RecallScore(ytest, pred, metrics.Weighted); err != nil {
		return err
	}
	result.F1, err = metrics.F1Score(ytest, pred, metrics.Weighted)
	return err
}

// logFigures renders the confusion matrix, profile and report into dir and
// logs each file at the artifact root
func (e *IrisExperiment) logFigures(ctx context.Context, run *tracker.ActiveRun, ds *dataset.Dataset, dir string, ytest, pred []int, result *IrisResult) error {
	labels := make([]int, len(ds.TargetNames))
	for i := range labels {
		labels[i] = i
	}
	cm, err := metrics.ConfusionMatrix(ytest, pred, labels)
	if err != nil {
		return err
	}
	result.ConfusionMatrix = cm

	cmPath := filepath.Join(dir, "confusion_matrix.png")
	if err := plot.ConfusionMatrixPNG(cm, ds.TargetNames, cmPath); err != nil {
		return err
	}

	profile, err := profiling.Describe(ds)
	if err != nil {
		return err
	}
	profilePath := filepath.Join(dir, "dataset_profile.json")
	if err := profile.WriteJSON(profilePath); err != nil {
		return err
	}

	cls, err := metrics.ClassificationReport(ytest, pred, ds.TargetNames)
	if err != nil {
		return err
	}
	page := &report.RunReport{
		Title:      "Random forest on " + ds.Name,
		Experiment: e.config.ExperimentName,
		RunID:      run.ID(),
		Params: map[string]string{
			"n_estimators": strconv.Itoa(e.config.NEstimators),
			"max_depth":    strconv.Itoa(e.config.MaxDepth),
			"random_state": strconv.FormatInt(e.config.RandomState, 10),
		},
		Metrics: map[string]float64{
			"accuracy":  result.Accuracy,
			"precision": result.Precision,
			"recall":    result.Recall,
			"f1":        result.F1,
		},
		Classification: cls,
		Images:         []string{"confusion_matrix.png"},
	}
	reportPath := filepath.Join(dir, "classification_report.html")
	if err := page.WriteHTML(reportPath); err != nil {
		return err
	}

	for _, path := range []string{cmPath, profilePath, reportPath} {
		if err := run.LogArtifact(ctx, path, ""); err != nil {
			return err
		}
	}
	return nil
}
