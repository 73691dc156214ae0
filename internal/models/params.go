package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params is the open-ended parameter set of a proposed operation.
// Values are JSON-shaped (string, float64, int, bool, nested maps/slices).
// Read sites use the typed accessors rather than asserting on the raw map.
type Params map[string]any

// Has reports whether key is present with a non-nil value.
func (p Params) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	return ok && v != nil
}

// GetString returns the value for key as a string.
// Non-string scalars are formatted; maps and slices are not.
func (p Params) GetString(key string) (string, bool) {
	if !p.Has(key) {
		return "", false
	}
	switch v := p[key].(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int, int32, int64, float32, float64:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// GetDouble returns the value for key as a float64.
// Numeric strings are parsed.
func (p Params) GetDouble(key string) (float64, bool) {
	if !p.Has(key) {
		return 0, false
	}
	return toFloat(p[key])
}

// GetBool returns the value for key as a bool.
func (p Params) GetBool(key string) (bool, bool) {
	if !p.Has(key) {
		return false, false
	}
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// GetID returns the value for key as an element identifier.
// Accepts integers, integral floats and numeric strings; ids must be positive.
func (p Params) GetID(key string) (int64, bool) {
	if !p.Has(key) {
		return 0, false
	}
	return ParseID(p[key])
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy. Nested maps and slices are shared.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal compares two parameter sets by their JSON encoding.
func (p Params) Equal(other Params) bool {
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// IsIDKey reports whether a parameter name looks like it carries an element id
// ("id", "wall_id", "hostId", "levelid").
func IsIDKey(key string) bool {
	k := strings.ToLower(key)
	return k == "id" || strings.HasSuffix(k, "id") && len(k) > 2 && !strings.HasSuffix(k, "uuid") && !strings.HasSuffix(k, "guid") && !strings.HasSuffix(k, "valid")
}

// IsScalar reports whether v is a string, bool or number.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	}
	return false
}

// ParseID converts a JSON-shaped value into a positive element id.
func ParseID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n > 0
	case int32:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case float64:
		if n != math.Trunc(n) || n <= 0 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil && id > 0
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// FormatValue renders a parameter value for reviewer-facing text.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
