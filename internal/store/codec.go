package store

import (
	"strings"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
)

var storedTimeLayouts = []string{
	entity.TimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// encode converts an entity value into what is written to SQLite.
func encode(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if x.IsZero() {
			return nil, nil
		}
		return x.UTC().Format(entity.TimeLayout), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case []string, []any, map[string]any:
		raw, err := jsonMarshal(x)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	return v, nil
}

// decode converts a scanned value back using the declared column type.
// Drivers differ in how much conversion they already did, so every branch
// accepts both the raw and the converted form.
func decode(declared string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch {
	case declared == "INTEGER":
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		}
	case declared == "REAL":
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		}
	case declared == "BOOLEAN":
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			return x == "1" || strings.EqualFold(x, "true")
		}
	case declared == "TIMESTAMP":
		switch x := v.(type) {
		case time.Time:
			return x.UTC()
		case string:
			if t, ok := parseStoredTime(x); ok {
				return t
			}
		}
	case declared == "TEXT_ARRAY":
		if s, ok := v.(string); ok {
			var out []string
			if err := jsonUnmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case strings.HasSuffix(declared, "_ARRAY"):
		if s, ok := v.(string); ok {
			var out []any
			if err := jsonUnmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case declared == "JSON":
		if s, ok := v.(string); ok {
			var out any
			if err := jsonUnmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	}
	return v
}

func parseStoredTime(s string) (time.Time, bool) {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func toTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string:
		t, _ := parseStoredTime(x)
		return t
	case []byte:
		t, _ := parseStoredTime(string(x))
		return t
	}
	return time.Time{}
}
