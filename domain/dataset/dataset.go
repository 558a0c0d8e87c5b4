// Package dataset holds the tabular classification data the experiments
// train and evaluate on.
package dataset

import (
	"fmt"

	"mltrack/internal/errors"
)

// Dataset is a dense feature matrix with integer class labels. Y[i] indexes
// TargetNames.
type Dataset struct {
	Name         string
	FeatureNames []string
	TargetNames  []string
	X            [][]float64
	Y            []int
}

// Len returns the number of samples
func (d *Dataset) Len() int {
	return len(d.X)
}

// NumFeatures returns the number of columns
func (d *Dataset) NumFeatures() int {
	return len(d.FeatureNames)
}

// Validate checks shapes and label ranges
func (d *Dataset) Validate() error {
	if len(d.X) == 0 {
		return errors.ValidationError("dataset has no samples")
	}
	if len(d.X) != len(d.Y) {
		return errors.ValidationError(fmt.Sprintf("dataset has %d samples but %d labels", len(d.X), len(d.Y)))
	}
	if len(d.FeatureNames) == 0 {
		return errors.ValidationError("dataset has no features")
	}
	for i, row := range d.X {
		if len(row) != len(d.FeatureNames) {
			return errors.ValidationError(fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(d.FeatureNames)))
		}
	}
	for i, y := range d.Y {
		if y < 0 || y >= len(d.TargetNames) {
			return errors.ValidationError(fmt.Sprintf("label %d of row %d is outside the %d target names", y, i, len(d.TargetNames)))
		}
	}
	return nil
}

// Column returns a copy of feature j across all samples
func (d *Dataset) Column(j int) []float64 {
	out := make([]float64, len(d.X))
	for i, row := range d.X {
		out[i] = row[j]
	}
	return out
}

// ClassCounts counts samples per target name
func (d *Dataset) ClassCounts() map[string]int {
	out := make(map[string]int, len(d.TargetNames))
	for _, y := range d.Y {
		out[d.TargetNames[y]]++
	}
	return out
}

// Subset returns the rows at idx. Rows are shared, not copied.
func (d *Dataset) Subset(idx []int) *Dataset {
	sub := &Dataset{
		Name:         d.Name,
		FeatureNames: d.FeatureNames,
		TargetNames:  d.TargetNames,
		X:            make([][]float64, len(idx)),
		Y:            make([]int, len(idx)),
	}
	for k, i := range idx {
		sub.X[k] = d.X[i]
		sub.Y[k] = d.Y[i]
	}
	return sub
}
