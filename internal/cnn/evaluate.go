package cnn

import (
	"context"
	"fmt"
	"math"

	"mltrack/internal"
	"mltrack/internal/errors"
	"mltrack/internal/imagegen"

	"gonum.org/v1/gonum/floats"
)

const epsilon = 1e-7

// Batches is a finite sequence of labelled image batches
type Batches interface {
	Len() int
	Batch(ctx context.Context, i int) (*imagegen.Batch, error)
}

// Score holds the evaluation results over every sample
type Score struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// categoricalCrossEntropy normalises the prediction, clips it away from
// 0 and 1 and returns -sum(y * log p)
func categoricalCrossEntropy(yTrue, yPred []float64) float64 {
	sum := floats.Sum(yPred)
	loss := 0.0
	for i, y := range yTrue {
		if y == 0 {
			continue
		}
		p := yPred[i]
		if sum > 0 {
			p /= sum
		}
		p = math.Min(math.Max(p, epsilon), 1-epsilon)
		loss -= y * math.Log(p)
	}
	return loss
}

// Evaluate runs the model over every batch and returns the mean
// categorical cross-entropy and the argmax accuracy
func (m *Model) Evaluate(ctx context.Context, batches Batches) (Score, error) {
	logger := internal.DefaultLogger.With("cnn")
	out, err := m.OutputShape()
	if err != nil {
		return Score{}, err
	}
	width := out.size()

	var loss float64
	var correct, n int
	for i := 0; i < batches.Len(); i++ {
		b, err := batches.Batch(ctx, i)
		if err != nil {
			return Score{}, errors.Wrapf(err, "failed to load batch %d", i)
		}
		preds, err := m.Predict(ctx, b.Images)
		if err != nil {
			return Score{}, err
		}
		for k, pred := range preds {
			label := b.Labels[k]
			if len(label) != width {
				return Score{}, errors.InvalidInput(fmt.Sprintf("model predicts %d classes but labels have %d", width, len(label)))
			}
			loss += categoricalCrossEntropy(label, pred)
			if floats.MaxIdx(pred) == floats.MaxIdx(label) {
				correct++
			}
			n++
		}
		logger.Debug("batch %d/%d done", i+1, batches.Len())
	}
	if n == 0 {
		return Score{}, errors.InvalidInput("no samples to evaluate")
	}

	score := Score{Loss: loss / float64(n), Accuracy: float64(correct) / float64(n)}
	logger.Info("evaluated %d samples: loss %.4f, accuracy %.4f", n, score.Loss, score.Accuracy)
	return score, nil
}
