// Package profiling summarises the features of a dataset before training
package profiling

import (
	"encoding/json"
	"os"

	"mltrack/domain/dataset"
	"mltrack/internal/errors"

	"github.com/montanaflynn/stats"
)

// FeatureSummary is the pandas-style describe() row of one feature plus
// shape markers
type FeatureSummary struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Q25      float64 `json:"25%"`
	Median   float64 `json:"50%"`
	Q75      float64 `json:"75%"`
	Max      float64 `json:"max"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"excess_kurtosis"`
	NormalP  float64 `json:"normality_p"`
	Outliers int     `json:"outliers"`
}

// Profile describes a whole dataset
type Profile struct {
	Dataset     string           `json:"dataset"`
	Samples     int              `json:"samples"`
	Features    []FeatureSummary `json:"features"`
	ClassCounts map[string]int   `json:"class_counts"`
}

// Describe computes per-feature statistics. Std is the sample standard
// deviation and quartiles use linear interpolation, matching pandas.
func Describe(ds *dataset.Dataset) (*Profile, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	profile := &Profile{
		Dataset:     ds.Name,
		Samples:     ds.Len(),
		ClassCounts: ds.ClassCounts(),
	}
	for j, name := range ds.FeatureNames {
		summary, err := describeColumn(name, ds.Column(j))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to describe feature %q", name)
		}
		profile.Features = append(profile.Features, summary)
	}
	return profile, nil
}

func describeColumn(name string, data []float64) (FeatureSummary, error) {
	s := FeatureSummary{Name: name, Count: len(data)}
	var err error

	if s.Mean, err = stats.Mean(data); err != nil {
		return s, err
	}
	if len(data) > 1 {
		if s.Std, err = stats.StandardDeviationSample(data); err != nil {
			return s, err
		}
	}
	if s.Min, err = stats.Min(data); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(data); err != nil {
		return s, err
	}
	if s.Median, err = stats.Median(data); err != nil {
		return s, err
	}
	if s.Q25, err = quantile(data, 0.25); err != nil {
		return s, err
	}
	if s.Q75, err = quantile(data, 0.75); err != nil {
		return s, err
	}

	popStd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return s, err
	}
	s.Skewness = skewness(data, s.Mean, popStd)
	s.Kurtosis = excessKurtosis(data, s.Mean, popStd)
	_, s.NormalP = jarqueBera(len(data), s.Skewness, s.Kurtosis)
	s.Outliers = countOutliers(data, s.Q25, s.Q75)
	return s, nil
}

// quantile interpolates linearly between closest ranks, numpy's default
func quantile(data []float64, q float64) (float64, error) {
	sorted, err := stats.Sorted(data)
	if err != nil {
		return 0, err
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1], nil
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo]), nil
}

// WriteJSON stores the profile as indented JSON
func (p *Profile) WriteJSON(path string) error {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode profile")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
