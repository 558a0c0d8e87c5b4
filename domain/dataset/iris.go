package dataset

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"strconv"

	"mltrack/internal/errors"
)

//go:embed iris.csv
var irisCSV []byte

// IrisTargetNames are the species in label order
var IrisTargetNames = []string{"setosa", "versicolor", "virginica"}

// LoadIris returns Fisher's Iris data: 150 samples, four measurements in
// centimetres, three species
func LoadIris() (*Dataset, error) {
	rows, err := csv.NewReader(bytes.NewReader(irisCSV)).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse embedded iris data")
	}

	labels := make(map[string]int, len(IrisTargetNames))
	for i, name := range IrisTargetNames {
		labels[name] = i
	}

	header := rows[0]
	ds := &Dataset{
		Name:         "iris",
		FeatureNames: append([]string(nil), header[:4]...),
		TargetNames:  append([]string(nil), IrisTargetNames...),
	}
	for _, row := range rows[1:] {
		x := make([]float64, 4)
		for j := 0; j < 4; j++ {
			if x[j], err = strconv.ParseFloat(row[j], 64); err != nil {
				return nil, errors.Wrapf(err, "bad iris value %q", row[j])
			}
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, labels[row[4]])
	}
	return ds, ds.Validate()
}
