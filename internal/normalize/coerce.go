// Package normalize turns the loosely typed arguments a model sends
// with a tool call into the typed requests backend clients expect.
//
// Coercion never fails on a malformed optional value: it falls back to
// the default. Only a missing required field produces an error, an
// [*ArgError] that the tool registry reports back to the model.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nugget/marquee-media-agent/internal/detail"
)

// ArgError reports a required argument that is missing or unusable.
type ArgError struct {
	Field  string
	Reason string
}

func (e *ArgError) Error() string {
	if e.Reason == "" {
		return e.Field + " is required"
	}
	return e.Field + ": " + e.Reason
}

func required(field string) error { return &ArgError{Field: field} }

// Args is a decoded tool-call argument object.
type Args map[string]any

// Has reports whether key is present and not null.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Int returns a[key] as an int, or def.
func (a Args) Int(key string, def int) int {
	if n, ok := Int(a[key]); ok {
		return n
	}
	return def
}

// Float returns a[key] as a float64, or def.
func (a Args) Float(key string, def float64) float64 {
	if f, ok := Float(a[key]); ok {
		return f
	}
	return def
}

// Bool returns a[key] as a bool, or def.
func (a Args) Bool(key string, def bool) bool {
	return Bool(a[key], def)
}

// String returns a[key] as a trimmed string. Numbers are formatted.
func (a Args) String(key string) string {
	return String(a[key])
}

// StringOr is String with a default for blank values.
func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

// IntList returns a[key] as a list of ints.
func (a Args) IntList(key string) []int {
	return IntList(a[key])
}

// StringList returns a[key] as a list of non-blank strings.
func (a Args) StringList(key string) []string {
	return StringList(a[key])
}

// Level returns the response-detail level, or def.
func (a Args) Level(def detail.Level) detail.Level {
	return Level(a["response_level"], def)
}

// Map returns a[key] when it is a JSON object.
func (a Args) Map(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

// Int coerces integers, whole floats and numeric strings. Values outside
// the int range do not coerce.
func Int(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case float64:
		if math.IsNaN(x) || x != math.Trunc(x) || x < math.MinInt || x >= math.MaxInt {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return Int(f)
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Int(f)
		}
	}
	return 0, false
}

// Float coerces numbers and numeric strings.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool accepts true/false, 1/0, yes/no, y/n and on/off.
func Bool(v any, def bool) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// String formats scalars and trims whitespace. Non-scalars yield "".
func String(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// IntList accepts a list, a single number, or a comma-separated
// string. Elements that do not coerce are dropped.
func IntList(v any) []int {
	var out []int
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		for _, e := range x {
			out = append(out, IntList(e)...)
		}
	case []int:
		return append(out, x...)
	case string:
		for _, part := range strings.FieldsFunc(x, func(r rune) bool { return r == ',' || r == '|' }) {
			if n, ok := Int(part); ok {
				out = append(out, n)
			}
		}
	default:
		if n, ok := Int(x); ok {
			out = append(out, n)
		}
	}
	return out
}

// StringList accepts a list or a comma-separated string.
func StringList(v any) []string {
	var out []string
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			if s := String(e); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(x, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Level parses a response-detail level, falling back to def.
func Level(v any, def detail.Level) detail.Level {
	s, ok := v.(string)
	if !ok {
		return def
	}
	if l, ok := detail.Parse(s); ok {
		return l
	}
	return def
}

// Clamp returns def when n is below 1 and caps n at hi.
func Clamp(n, def, hi int) int {
	if n < 1 {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

func requireInt(a Args, key string) (int, error) {
	n, ok := Int(a[key])
	if !ok || n <= 0 {
		if a.Has(key) {
			return 0, &ArgError{Field: key, Reason: fmt.Sprintf("expected a positive integer, got %v", a[key])}
		}
		return 0, required(key)
	}
	return n, nil
}

func requireString(a Args, key string) (string, error) {
	s := a.String(key)
	if s == "" {
		return "", required(key)
	}
	return s, nil
}
