package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Millis is a Unix timestamp in milliseconds, the unit tracking services
// use for run and metric times
type Millis int64

// NowMillis returns the current time in milliseconds
func NowMillis() Millis {
	return ToMillis(time.Now())
}

// ToMillis converts a time.Time
func ToMillis(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time returns the underlying time.Time in UTC
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// String renders the timestamp as RFC3339
func (m Millis) String() string {
	return m.Time().Format(time.RFC3339)
}

// UnmarshalJSON accepts both a JSON number and a quoted integer, since
// protobuf JSON encoders quote int64 values
func (m *Millis) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid millisecond timestamp %s: %w", data, err)
	}
	*m = Millis(v)
	return nil
}
