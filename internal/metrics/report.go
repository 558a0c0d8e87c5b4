package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// Report is a per-class breakdown with accuracy and averages
type Report struct {
	Classes     []ClassScore
	Names       []string
	Accuracy    float64
	MacroAvg    ClassScore
	WeightedAvg ClassScore
	Support     int
}

// ClassificationReport scores every class. names maps labels to display
// names; labels without a name print as numbers.
func ClassificationReport(yTrue, yPred []int, names []string) (*Report, error) {
	scores, err := PerClass(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	r := &Report{Classes: scores, Accuracy: acc, Support: len(yTrue)}
	var macro, weighted ClassScore
	for _, s := range scores {
		name := strconv.Itoa(s.Label)
		if s.Label >= 0 && s.Label < len(names) {
			name = names[s.Label]
		}
		r.Names = append(r.Names, name)

		macro.Precision += s.Precision
		macro.Recall += s.Recall
		macro.F1 += s.F1
		w := float64(s.Support)
		weighted.Precision += s.Precision * w
		weighted.Recall += s.Recall * w
		weighted.F1 += s.F1 * w
	}
	k := float64(len(scores))
	total := float64(r.Support)
	r.MacroAvg = ClassScore{Label: -1, Precision: macro.Precision / k, Recall: macro.Recall / k, F1: macro.F1 / k, Support: r.Support}
	r.WeightedAvg = ClassScore{Label: -1, Precision: weighted.Precision / total, Recall: weighted.Recall / total, F1: weighted.F1 / total, Support: r.Support}
	return r, nil
}

// String renders the report as an aligned text table
func (r *Report) String() string {
	width := len("weighted avg")
	for _, n := range r.Names {
		if len(n) > width {
			width = len(n)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for i, s := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, r.Names[i], s.Precision, s.Recall, s.F1, s.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Support)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "macro avg", r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, r.Support)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "weighted avg", r.WeightedAvg.Precision, r.WeightedAvg.Recall, r.WeightedAvg.F1, r.Support)
	return b.String()
}
