// Package coerce converts loosely typed upstream JSON values into typed fields.
//
// Payloads are decoded with json.Decoder.UseNumber, so numbers arrive as
// json.Number and keep every digit of long serials and compact dates.
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const compactDateLayout = "20060102"

// Pick returns the first non-empty value found under the given keys, in order.
// Empty means nil, "", false, numeric zero, or an empty list/object.
func Pick(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Date parses v into a calendar date at UTC midnight.
//
// nil, "" and "00000000" mean "no date" and return (nil, nil). Otherwise all
// non-digits are stripped and the first eight digits are read as YYYYMMDD;
// when that fails the trimmed string goes through general date parsing.
func Date(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		d := dateOf(t)
		return &d, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		d := dateOf(*t)
		return &d, nil
	case json.Number:
		s, err := integerString(t)
		if err != nil {
			return nil, fmt.Errorf("unparsable date %q: %w", t.String(), err)
		}
		return parseDate(s)
	case int:
		return parseDate(strconv.Itoa(t))
	case int64:
		return parseDate(strconv.FormatInt(t, 10))
	case float64:
		return parseDate(strconv.FormatInt(int64(math.Trunc(t)), 10))
	case string:
		return parseDate(t)
	default:
		return nil, fmt.Errorf("unsupported date value %v (%T)", v, v)
	}
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" || raw == "00000000" {
		return nil, nil
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	digits := onlyDigits(s)
	if len(digits) >= 8 {
		if d, err := time.ParseInLocation(compactDateLayout, digits[:8], time.UTC); err == nil {
			return &d, nil
		}
	}
	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("unparsable date %q: %w", raw, err)
	}
	d := dateOf(parsed)
	return &d, nil
}

// Int converts v to an integer. Empty values, "N/A" and anything that does not
// parse as a base-10 integer yield nil; conversion failures are not errors.
func Int(v any) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" || t == "N/A" {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(stringify(v)), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// String returns the trimmed string form of v, or nil when it is empty.
func String(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	}
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return &s
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	return onlyDigits(s)
}

// Stringify renders v the way it is stored in text columns.
func Stringify(v any) string {
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func integerString(n json.Number) (string, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("parse number: %w", err)
	}
	return strconv.FormatInt(int64(math.Trunc(f)), 10), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
