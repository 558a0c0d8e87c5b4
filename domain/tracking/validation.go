package tracking

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"mltrack/internal/errors"
)

// Limits enforced on logged data
const (
	MaxEntityKeyLength = 250
	MaxParamValLength  = 6000
	MaxTagValLength    = 8000
	MaxExperimentName  = 500
	MaxMetricsPerBatch = 1000
	MaxParamsPerBatch  = 100
	MaxTagsPerBatch    = 100
)

var validKeyRe = regexp.MustCompile(`^[/\w.\- ]*$`)

// ValidateKey checks a param, metric or tag key
func ValidateKey(kind, key string) error {
	if key == "" {
		return errors.InvalidParameter(fmt.Sprintf("%s key must not be empty", kind))
	}
	if len(key) > MaxEntityKeyLength {
		return errors.InvalidParameter(fmt.Sprintf("%s key %q exceeds %d characters", kind, key, MaxEntityKeyLength))
	}
	if !validKeyRe.MatchString(key) {
		return errors.InvalidParameter(fmt.Sprintf("invalid %s key %q: only alphanumerics, underscores, dashes, periods, spaces and slashes are allowed", kind, key))
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return errors.InvalidParameter(fmt.Sprintf("invalid %s key %q: must be a normalized relative path", kind, key))
	}
	return nil
}

// ValidateParam checks a param key and value length
func ValidateParam(p Param) error {
	if err := ValidateKey("param", p.Key); err != nil {
		return err
	}
	if len(p.Value) > MaxParamValLength {
		return errors.InvalidParameter(fmt.Sprintf("param %q value exceeds %d characters", p.Key, MaxParamValLength))
	}
	return nil
}

// ValidateMetric checks a metric key. Any float value is accepted,
// including NaN and infinities.
func ValidateMetric(m Metric) error {
	if err := ValidateKey("metric", m.Key); err != nil {
		return err
	}
	if m.Timestamp < 0 {
		return errors.InvalidParameter(fmt.Sprintf("metric %q has a negative timestamp", m.Key))
	}
	return nil
}

// ValidateTag checks a tag key and value length
func ValidateTag(t Tag) error {
	if err := ValidateKey("tag", t.Key); err != nil {
		return err
	}
	if len(t.Value) > MaxTagValLength {
		return errors.InvalidParameter(fmt.Sprintf("tag %q value exceeds %d characters", t.Key, MaxTagValLength))
	}
	return nil
}

// ValidateExperimentName checks an experiment name
func ValidateExperimentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.InvalidParameter("experiment name must not be empty")
	}
	if len(name) > MaxExperimentName {
		return errors.InvalidParameter(fmt.Sprintf("experiment name exceeds %d characters", MaxExperimentName))
	}
	return nil
}

// ValidateModelName checks a registered model name
func ValidateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.InvalidParameter("registered model name must not be empty")
	}
	if strings.Contains(name, "/") {
		return errors.InvalidParameter(fmt.Sprintf("registered model name %q must not contain '/'", name))
	}
	return nil
}

// ValidateBatch checks batch sizes and every entry
func ValidateBatch(metrics []Metric, params []Param, tags []Tag) error {
	if len(metrics) > MaxMetricsPerBatch {
		return errors.InvalidParameter(fmt.Sprintf("batch has %d metrics, limit is %d", len(metrics), MaxMetricsPerBatch))
	}
	if len(params) > MaxParamsPerBatch {
		return errors.InvalidParameter(fmt.Sprintf("batch has %d params, limit is %d", len(params), MaxParamsPerBatch))
	}
	if len(tags) > MaxTagsPerBatch {
		return errors.InvalidParameter(fmt.Sprintf("batch has %d tags, limit is %d", len(tags), MaxTagsPerBatch))
	}
	seen := make(map[string]string, len(params))
	for _, p := range params {
		if err := ValidateParam(p); err != nil {
			return err
		}
		if prev, ok := seen[p.Key]; ok && prev != p.Value {
			return errors.InvalidParameter(fmt.Sprintf("duplicate param %q with different values in one batch", p.Key))
		}
		seen[p.Key] = p.Value
	}
	for _, m := range metrics {
		if err := ValidateMetric(m); err != nil {
			return err
		}
	}
	for _, t := range tags {
		if err := ValidateTag(t); err != nil {
			return err
		}
	}
	return nil
}

// ParamConflict builds the error returned when a param is re-logged with a
// different value
func ParamConflict(runID, key, oldValue, newValue string) error {
	return errors.InvalidParameter(fmt.Sprintf(
		"changing param values is not allowed: param %q of run %s was already logged with value %q, got %q",
		key, runID, oldValue, newValue))
}
