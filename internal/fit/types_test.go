package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/curvesearch/internal/errs"
)

func TestBoundsExpand(t *testing.T) {
	inf := math.Inf(1)

	tests := []struct {
		name      string
		bounds    Bounds
		wantLower []float64
		wantUpper []float64
	}{
		{"unbounded", Unbounded(), []float64{-inf, -inf, -inf}, []float64{inf, inf, inf}},
		{"uniform", Uniform(-1, 2), []float64{-1, -1, -1}, []float64{2, 2, 2}},
		{"per parameter", Bounds{Lower: []float64{0, 1, 2}, Upper: []float64{3, 4, 5}}, []float64{0, 1, 2}, []float64{3, 4, 5}},
		{"lower only", Bounds{Lower: []float64{0}}, []float64{0, 0, 0}, []float64{inf, inf, inf}},
		{"pinned", Bounds{Lower: []float64{1, 1, 1}, Upper: []float64{1, 2, 3}}, []float64{1, 1, 1}, []float64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper, err := tt.bounds.Expand(3)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLower, lower)
			assert.Equal(t, tt.wantUpper, upper)
		})
	}
}

func TestBoundsExpandRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		bounds Bounds
	}{
		{"inverted", Bounds{Lower: []float64{0, 5}, Upper: []float64{1, 4}}},
		{"wrong length", Bounds{Lower: []float64{0, 0, 0}}},
		{"nan", Uniform(math.NaN(), 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.bounds.Expand(2)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestBoundsActive(t *testing.T) {
	assert.False(t, Unbounded().Active())
	assert.False(t, Uniform(math.Inf(-1), math.Inf(1)).Active())
	assert.True(t, Bounds{Upper: []float64{math.Inf(1), 3}}.Active())
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{Lower: []float64{0, 0}, Upper: []float64{1, 1}}
	assert.True(t, b.Contains([]float64{0, 1}))
	assert.False(t, b.Contains([]float64{0, 1.5}))
	assert.False(t, b.Contains([]float64{0.5}))
}

func TestInitialGuess(t *testing.T) {
	inf := math.Inf(1)
	lower := []float64{-inf, 2, -inf, 4}
	upper := []float64{inf, inf, 10, 8}

	assert.Equal(t, []float64{1, 3, 9, 6}, InitialGuess(lower, upper))
}
