// Package metrics scores multi-class predictions
package metrics

import (
	"fmt"
	"sort"

	"mltrack/internal/errors"
)

// Average selects how per-class scores are combined
type Average string

const (
	// Weighted averages per-class scores by support
	Weighted Average = "weighted"
	// Macro is the unweighted mean over classes
	Macro Average = "macro"
	// Micro counts true and false positives globally
	Micro Average = "micro"
)

func checkLengths(yTrue, yPred []int) error {
	if len(yTrue) != len(yPred) {
		return errors.InvalidInput(fmt.Sprintf("y_true has %d labels but y_pred has %d", len(yTrue), len(yPred)))
	}
	if len(yTrue) == 0 {
		return errors.InvalidInput("no labels to score")
	}
	return nil
}

// Accuracy is the fraction of exact matches
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// Labels returns the sorted union of labels in yTrue and yPred
func Labels(yTrue, yPred []int) []int {
	seen := make(map[int]struct{})
	for _, y := range yTrue {
		seen[y] = struct{}{}
	}
	for _, y := range yPred {
		seen[y] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// ConfusionMatrix counts samples with true label labels[i] predicted as
// labels[j] in cell [i][j]. A nil labels uses the sorted union of both
// slices; samples with labels outside the list are ignored.
func ConfusionMatrix(yTrue, yPred, labels []int) ([][]int, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return nil, err
	}
	if labels == nil {
		labels = Labels(yTrue, yPred)
	}
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for k := range yTrue {
		i, okT := index[yTrue[k]]
		j, okP := index[yPred[k]]
		if okT && okP {
			cm[i][j]++
		}
	}
	return cm, nil
}

// ClassScore holds the scores of one label
type ClassScore struct {
	Label     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func f1(precision, recall float64) float64 {
	return safeDiv(2*precision*recall, precision+recall)
}

// PerClass computes precision, recall and F1 for every label. Undefined
// ratios (no predictions or no support) score 0.
func PerClass(yTrue, yPred []int) ([]ClassScore, error) {
	labels := Labels(yTrue, yPred)
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}

	scores := make([]ClassScore, len(labels))
	for i, l := range labels {
		tp := cm[i][i]
		predicted, support := 0, 0
		for k := range labels {
			predicted += cm[k][i]
			support += cm[i][k]
		}
		p := safeDiv(float64(tp), float64(predicted))
		r := safeDiv(float64(tp), float64(support))
		scores[i] = ClassScore{Label: l, Precision: p, Recall: r, F1: f1(p, r), Support: support}
	}
	return scores, nil
}

type scoreKind int

const (
	precisionKind scoreKind = iota
	recallKind
	f1Kind
)

func (s ClassScore) pick(kind scoreKind) float64 {
	switch kind {
	case precisionKind:
		return s.Precision
	case recallKind:
		return s.Recall
	default:
		return s.F1
	}
}

func averaged(yTrue, yPred []int, avg Average, kind scoreKind) (float64, error) {
	scores, err := PerClass(yTrue, yPred)
	if err != nil {
		return 0, err
	}

	switch avg {
	case Weighted:
		var sum float64
		total := 0
		for _, s := range scores {
			sum += s.pick(kind) * float64(s.Support)
			total += s.Support
		}
		return safeDiv(sum, float64(total)), nil
	case Macro:
		var sum float64
		for _, s := range scores {
			sum += s.pick(kind)
		}
		return sum / float64(len(scores)), nil
	case Micro:
		// Every sample is one prediction, so micro precision, recall and
		// F1 all equal accuracy.
		return Accuracy(yTrue, yPred)
	default:
		return 0, errors.InvalidParameter(fmt.Sprintf("unknown average %q", avg))
	}
}

// PrecisionScore combines per-class precision with avg
func PrecisionScore(yTrue, yPred []int, avg Average) (float64, error) {
	return averaged(yTrue, yPred, avg, precisionKind)
}

// RecallScore combines per-class recall with avg
func RecallScore(yTrue, yPred []int, avg Average) (float64, error) {
	return averaged(yTrue, yPred, avg, recallKind)
}

// F1Score combines per-class F1 with avg
func F1Score(yTrue, yPred []int, avg Average) (float64, error) {
	return averaged(yTrue, yPred, avg, f1Kind)
}
