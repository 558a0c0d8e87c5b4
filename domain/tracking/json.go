package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mltrack/domain/core"
)

// metricJSON is the wire form of Metric. Non-finite values travel as the
// strings "NaN", "Infinity" and "-Infinity", the protobuf JSON convention.
type metricJSON struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp core.Millis     `json:"timestamp"`
	Step      stepJSON        `json:"step"`
}

type stepJSON int64

func (s *stepJSON) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid metric step %s: %w", data, err)
	}
	*s = stepJSON(v)
	return nil
}

// MarshalJSON encodes the metric, spelling non-finite values as strings
func (m Metric) MarshalJSON() ([]byte, error) {
	var value json.RawMessage
	switch {
	case math.IsNaN(m.Value):
		value = json.RawMessage(`"NaN"`)
	case math.IsInf(m.Value, 1):
		value = json.RawMessage(`"Infinity"`)
	case math.IsInf(m.Value, -1):
		value = json.RawMessage(`"-Infinity"`)
	default:
		value = json.RawMessage(strconv.FormatFloat(m.Value, 'g', -1, 64))
	}
	return json.Marshal(metricJSON{Key: m.Key, Value: value, Timestamp: m.Timestamp, Step: stepJSON(m.Step)})
}

// UnmarshalJSON decodes numbers and the string spellings of non-finite values
func (m *Metric) UnmarshalJSON(data []byte) error {
	var raw metricJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := parseMetricValue(raw.Value)
	if err != nil {
		return fmt.Errorf("metric %q: %w", raw.Key, err)
	}
	*m = Metric{Key: raw.Key, Value: value, Timestamp: raw.Timestamp, Step: int64(raw.Step)}
	return nil
}

func parseMetricValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch str {
		case "NaN":
			return math.NaN(), nil
		case "Infinity", "inf":
			return math.Inf(1), nil
		case "-Infinity", "-inf":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(str, 64)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid metric value %s", raw)
	}
	return v, nil
}
