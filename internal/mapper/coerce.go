package mapper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/invoicehub/mirror/internal/utils"
)

// ToString renders scalars as text. Objects and arrays are JSON encoded.
func ToString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case map[string]any, []any:
		raw, err := jsonMarshal(x)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}

// ToInt truncates decimals toward zero. Values outside the int64 range are
// rejected.
func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	}
	f, ok := ToNumeric(v)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ToNumeric accepts numbers and loosely formatted numeric text such as
// "1,234.50", "$12" or "RM 30".
func ToNumeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		return parseNumeric(x)
	}
	return 0, false
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != '-'
	})
	s = strings.TrimRight(s, "% ")
	s = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

// ToBool accepts native booleans, true/false, yes/no, y/n and 1/0 in any case.
func ToBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case int64:
		return x != 0, true
	case int:
		return x != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

// ToTime accepts RFC 3339 and ISO-8601 text, plain dates and epoch seconds
// or milliseconds. Results are in UTC.
func ToTime(v any) (time.Time, bool) {
	return utils.ParseTime(v)
}

// ToArray passes arrays through, wraps scalars and splits comma separated
// text. Elements are trimmed and empty ones dropped.
func ToArray(v any) ([]string, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []string:
		return compact(x), true
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := ToString(item); ok {
				out = append(out, s)
			}
		}
		return compact(out), true
	case string:
		return compact(strings.Split(x, ",")), true
	}
	if s, ok := ToString(v); ok {
		return compact([]string{s}), true
	}
	return nil, false
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var isoTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?$`)

// Infer converts a value of an undeclared field into the Go type the schema
// reflector and the store understand.
func Infer(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case string:
		if isoTimestamp.MatchString(strings.TrimSpace(x)) {
			if t, ok := ToTime(x); ok {
				return t
			}
		}
		return x
	}
	return v
}

// NormalizeColumn turns a remote field name into a column name:
// "Percent of Total Amount" becomes "percent_of_total_amount".
func NormalizeColumn(key string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	col := strings.TrimRight(b.String(), "_")
	if col != "" && col[0] >= '0' && col[0] <= '9' {
		col = "f_" + col
	}
	return col
}
