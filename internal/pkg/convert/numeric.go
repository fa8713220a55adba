// Package convert provides type conversion utilities.
package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotScalar is returned when a value that must be a scalar number arrives
// as a structured value (map, slice, struct). Callers use it to reject bad
// broker metadata at the boundary instead of crashing mid-comparison.
var ErrNotScalar = fmt.Errorf("value is not a scalar number")

// ToFloat64 converts loosely typed numeric values to float64. Structured
// values and unparseable strings return ErrNotScalar wrapped with the
// concrete Go type, never a panic.
func ToFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: json.Number %q", ErrNotScalar, t.String())
		}
		return f, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: string %q", ErrNotScalar, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotScalar, v)
	}
}
