package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"mltrack/internal"
	"mltrack/internal/cnn"
	"mltrack/internal/errors"
	"mltrack/internal/imagegen"
	"mltrack/internal/tracker"
)

// EvaluationExperiment is the tracking experiment evaluation runs log to
const EvaluationExperiment = "Chest-CT-Scan-Experiment"

// Evaluation scores a trained CNN on the validation share of the training
// images
type Evaluation struct {
	config *EvaluationConfig
	model  *cnn.Model
	valid  *imagegen.Iterator
	score  *cnn.Score
	out    io.Writer
	logger *internal.Logger
}

// NewEvaluation creates an evaluation; user-facing lines go to out
func NewEvaluation(cfg *EvaluationConfig, out io.Writer) *Evaluation {
	if out == nil {
		out = os.Stdout
	}
	return &Evaluation{config: cfg, out: out, logger: internal.DefaultLogger.With("evaluation")}
}

// validGenerator rescales to [0, 1] and holds out 30% of each class
func (e *Evaluation) validGenerator() error {
	gen := imagegen.Generator{Rescale: 1.0 / 255, ValidationSplit: 0.30}
	size := e.config.ParamsImageSize
	if len(size) < 2 {
		return errors.ConfigInvalid(fmt.Sprintf("image size %v needs height and width", size))
	}
	it, err := gen.FlowFromDirectory(e.config.TrainingData, imagegen.FlowOptions{
		Subset:        imagegen.SubsetValidation,
		Shuffle:       false,
		TargetSize:    [2]int{size[0], size[1]},
		BatchSize:     e.config.ParamsBatchSize,
		Interpolation: imagegen.Bilinear,
	})
	if err != nil {
		return err
	}
	e.valid = it
	return nil
}

// Evaluate loads the model, scores it on the validation images and saves
// the score file
func (e *Evaluation) Evaluate(ctx context.Context) error {
	model, err := cnn.LoadModel(e.config.PathOfModel)
	if err != nil {
		return err
	}
	e.model = model

	if err := e.validGenerator(); err != nil {
		return err
	}
	score, err := e.model.Evaluate(ctx, e.valid)
	if err != nil {
		return err
	}
	e.score = &score
	return e.SaveScore()
}

// Score returns the last evaluation result
func (e *Evaluation) Score() (cnn.Score, bool) {
	if e.score == nil {
		return cnn.Score{}, false
	}
	return *e.score, true
}

// SaveScore writes {"loss", "accuracy"} to the configured scores path
func (e *Evaluation) SaveScore() error {
	if e.score == nil {
		return errors.InvalidState("no score yet; run Evaluate first")
	}
	return SaveJSON(e.config.ScoresPath, e.score)
}

// LogIntoTracker records the parameters, the score and the model as a new
// run of the evaluation experiment
func (e *Evaluation) LogIntoTracker(ctx context.Context, t *tracker.Tracker) error {
	if e.score == nil || e.model == nil {
		return errors.InvalidState("no score yet; run Evaluate first")
	}
	fmt.Fprintln(e.out, "Tracking URI:", t.TrackingURI())

	if _, err := t.SetExperiment(ctx, EvaluationExperiment); err != nil {
		return err
	}
	err := t.Run(ctx, func(ctx context.Context, run *tracker.ActiveRun) error {
		if err := run.LogParams(ctx, e.config.AllParams); err != nil {
			return err
		}
		if err := run.LogMetrics(ctx, map[string]float64{
			"loss":     e.score.Loss,
			"accuracy": e.score.Accuracy,
		}); err != nil {
			return err
		}
		_, err := run.LogModel(ctx, e.model, "model", "")
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(e.out, "Model successfully logged to MLflow.")
	return nil
}
