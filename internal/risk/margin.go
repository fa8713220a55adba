package risk

import (
	"errors"
	"fmt"

	"marlin/internal/pkg/convert"
)

// ErrInvalidMarginType flags a margin requirement that arrived as a
// structured value where a scalar was required. The comparison is rejected
// at the boundary; it must never surface as a runtime type failure inside an
// evaluation.
var ErrInvalidMarginType = errors.New("invalid margin type")

// NormalizeMargin converts a broker-supplied margin requirement to a scalar
// fraction. Accepts numbers and numeric strings; anything structured (a
// margin breakdown object, a slice of legs) is a typed error.
func NormalizeMargin(v any) (float64, error) {
	f, err := convert.ToFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMarginType, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: negative margin %f", ErrInvalidMarginType, f)
	}
	return f, nil
}
