package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat64Scalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, 0},
		{"float64", 1.5, 1.5},
		{"float32", float32(2.5), 2.5},
		{"int", 7, 7},
		{"int64", int64(-3), -3},
		{"uint64", uint64(9), 9},
		{"json number", json.Number("0.25"), 0.25},
		{"string", "42.5", 42.5},
		{"padded string", "  0.2  ", 0.2},
		{"empty string", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToFloat64(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToFloat64RejectsStructuredValues(t *testing.T) {
	for _, in := range []any{
		map[string]any{"value": 0.2},
		[]float64{0.2},
		struct{ V float64 }{0.2},
		"not-a-number",
		json.Number("bogus"),
	} {
		_, err := ToFloat64(in)
		assert.ErrorIs(t, err, ErrNotScalar, "%T must be rejected", in)
	}
}
