package tracker

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FormatParam renders a param value in the notation the MLflow UI shows for
// params logged by its reference client: [224, 224, 3], True, 0.01, 1.0
func FormatParam(v interface{}) string {
	return formatValue(v, false)
}

func formatValue(v interface{}, nested bool) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		if nested {
			return "'" + x + "'"
		}
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case []interface{}:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item, true)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = strconv.Itoa(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = "'" + k + "': " + formatValue(x[k], true)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if f == math.Trunc(f) && math.Abs(f) < 1e16 && !strings.ContainsAny(s, "e.") {
		s += ".0"
	}
	return s
}
