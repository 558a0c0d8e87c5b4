package excel

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mltrack/domain/dataset"
	"mltrack/internal/errors"
)

// ToDataset turns a table into a classification dataset. The target column
// is encoded into class indices in sorted label order; every other column
// must be numeric.
func (t *Table) ToDataset(name, target string) (*dataset.Dataset, error) {
	targetIdx := -1
	for i, h := range t.Headers {
		if h == target {
			targetIdx = i
		}
	}
	if targetIdx < 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("target column %q not found in %v", target, t.Headers))
	}

	labelSet := make(map[string]struct{})
	for _, row := range t.Rows {
		labelSet[row[targetIdx]] = struct{}{}
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	ds := &dataset.Dataset{Name: name, TargetNames: labels}
	for i, h := range t.Headers {
		if i != targetIdx {
			ds.FeatureNames = append(ds.FeatureNames, h)
		}
	}

	for r, row := range t.Rows {
		x := make([]float64, 0, len(ds.FeatureNames))
		for i, cell := range row {
			if i == targetIdx {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("row %d column %q: %q is not numeric", r+2, t.Headers[i], cell))
			}
			x = append(x, v)
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, index[row[targetIdx]])
	}
	return ds, ds.Validate()
}

// LoadDataset reads a CSV or XLSX file into a dataset
func LoadDataset(path, target string) (*dataset.Dataset, error) {
	table, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return table.ToDataset(name, target)
}
