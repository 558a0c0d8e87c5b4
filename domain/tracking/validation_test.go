package tracking

import (
	"math"
	"strings"
	"testing"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"accuracy", true},
		{"n_estimators", true},
		{"train/loss", true},
		{"val loss.v2-final", true},
		{"", false},
		{"/abs", false},
		{"a/../b", false},
		{"a//b", false},
		{"bad:key", false},
		{strings.Repeat("k", MaxEntityKeyLength+1), false},
	}
	for _, tt := range tests {
		err := ValidateKey("metric", tt.key)
		if tt.valid {
			assert.NoError(t, err, tt.key)
		} else {
			assert.Error(t, err, tt.key)
			assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))
		}
	}
}

func TestValidateMetricAcceptsNonFinite(t *testing.T) {
	assert.NoError(t, ValidateMetric(Metric{Key: "loss", Value: math.NaN()}))
	assert.NoError(t, ValidateMetric(Metric{Key: "loss", Value: math.Inf(1)}))
	assert.Error(t, ValidateMetric(Metric{Key: "loss", Timestamp: -1}))
}

func TestValidateParamLength(t *testing.T) {
	assert.NoError(t, ValidateParam(Param{Key: "p", Value: strings.Repeat("x", MaxParamValLength)}))
	assert.Error(t, ValidateParam(Param{Key: "p", Value: strings.Repeat("x", MaxParamValLength+1)}))
}

func TestValidateBatch(t *testing.T) {
	params := []Param{{Key: "a", Value: "1"}, {Key: "a", Value: "1"}}
	assert.NoError(t, ValidateBatch(nil, params, nil))

	params = append(params, Param{Key: "a", Value: "2"})
	assert.Error(t, ValidateBatch(nil, params, nil))

	tooMany := make([]Param, MaxParamsPerBatch+1)
	for i := range tooMany {
		tooMany[i] = Param{Key: "p", Value: "v"}
	}
	assert.Error(t, ValidateBatch(nil, tooMany, nil))
}

func TestRunStatus(t *testing.T) {
	assert.True(t, RunStatusFinished.IsTerminal())
	assert.True(t, RunStatusKilled.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatus("PAUSED").Valid())
}

func TestRunDataMaps(t *testing.T) {
	data := RunData{
		Params:  SortedParams(map[string]string{"b": "2", "a": "1"}),
		Metrics: []Metric{{Key: "accuracy", Value: 0.9}},
		Tags:    []Tag{{Key: TagRunName, Value: "r"}},
	}
	assert.Equal(t, "a", data.Params[0].Key)
	assert.Equal(t, "2", data.ParamMap()["b"])
	assert.Equal(t, 0.9, data.MetricMap()["accuracy"])
	assert.Equal(t, "r", data.TagMap()[TagRunName])
}
