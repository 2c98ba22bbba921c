package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row maps physical column names (or query aliases) to values.
type Row map[string]any

func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 converts integer-like values. ok is false for nil or non-numeric values.
func (r Row) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Bool treats nil as def and accepts the textual spellings stores commonly hold.
func (r Row) Bool(key string, def bool) bool {
	switch v := r[key].(type) {
	case nil:
		return def
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "false", "0", "f", "no", "n":
			return false
		case "true", "1", "t", "yes", "y":
			return true
		}
		return def
	}
	if n, ok := r.Int64(key); ok {
		return n != 0
	}
	return def
}

func (r Row) Time(key string) *time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	}
	return nil
}

// NormalizeID turns numeric text into int64 so it binds to integer columns.
// Anything else is returned trimmed.
func NormalizeID(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return s
	case float64:
		if t == math.Trunc(t) {
			return int64(t)
		}
	case int:
		return int64(t)
	}
	return v
}
