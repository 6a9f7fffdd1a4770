package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/errs"
)

// bump is a gaussian peak sampled on 0..20 with a small deterministic
// perturbation.
func bump() (x, y []float64) {
	for i := 0; i <= 20; i++ {
		v := float64(i)
		x = append(x, v)
		y = append(y, 5*math.Exp(-(v-2)*(v-2)/(2*2.5*2.5))+0.02*math.Sin(1.3*v))
	}
	return x, y
}

func line(n int) (x, y []float64) {
	for i := 0; i < n; i++ {
		v := float64(i)
		x = append(x, v)
		y = append(y, 0.5*v+2+0.01*math.Cos(2.1*v))
	}
	return x, y
}

func TestRunRanksGaussianBump(t *testing.T) {
	e := NewEngine(catalog.Default())
	x, y := bump()

	cfg := DefaultConfig()
	cfg.Functions = []string{"gaussian", "linear"}
	report, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, report.Results)

	assert.Equal(t, 5, report.Candidates)
	assert.Equal(t, len(x), report.Samples)
	assert.Equal(t, report.Candidates, len(report.Results)+len(report.Failures))

	best := report.Best()
	assert.Contains(t, best.ModelName, "gaussian")

	for i := 1; i < len(report.Results); i++ {
		assert.LessOrEqual(t, report.Results[i-1].Cost, report.Results[i].Cost)
	}

	cfg.Functions = []string{"constant"}
	flat, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	require.Len(t, flat.Results, 1)
	assert.Less(t, best.Cost, flat.Results[0].Cost)

	fitted := best.Evaluate(x)
	require.Len(t, fitted, len(x))
	for i := range y {
		assert.InDelta(t, y[i], fitted[i], 0.1)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	reg := catalog.NewRegistry()
	require.NoError(t, reg.Register(catalog.ElementaryModel{
		Name:   "linear",
		Params: []string{"a", "b"},
		Fn:     func(x float64, p []float64) float64 { return p[0]*x + p[1] },
	}))
	require.NoError(t, reg.Register(catalog.ElementaryModel{
		Name:   "broken",
		Params: []string{"a"},
		Fn:     func(float64, []float64) float64 { return math.NaN() },
	}))
	require.NoError(t, reg.Register(catalog.ElementaryModel{
		Name:   "explosive",
		Params: []string{"a"},
		Fn:     func(float64, []float64) float64 { panic("boom") },
	}))

	e := NewEngine(reg)
	x, y := line(12)

	report, err := e.Run(context.Background(), x, y, DefaultConfig())
	require.NoError(t, err)

	var fitted []string
	for _, r := range report.Results {
		fitted = append(fitted, r.ModelName)
	}
	assert.ElementsMatch(t, []string{"linear", "operation_linear_linear"}, fitted)
	assert.Equal(t, report.Candidates, len(report.Results)+len(report.Failures))

	var sawPanic, sawInvalid bool
	for _, f := range report.Failures {
		assert.Equal(t, Fitting, f.Stage)
		if strings.Contains(f.Err.Error(), "panic: boom") {
			sawPanic = true
		}
		if errs.IsValidation(f) {
			sawInvalid = true
		}
	}
	assert.True(t, sawPanic, "expected a recovered panic")
	assert.True(t, sawInvalid, "expected a non-finite start to fail validation")
}

func TestRunPiecewiseThreshold(t *testing.T) {
	e := NewEngine(catalog.Default())
	cfg := DefaultConfig()
	cfg.Functions = []string{"constant", "linear"}
	cfg.Piecewise = true

	split := func(r *Report) int {
		n := 0
		for _, res := range r.Results {
			if strings.HasPrefix(res.ModelName, "piecewise_") {
				n++
			}
		}
		for _, f := range r.Failures {
			if strings.HasPrefix(f.ModelName, "piecewise_") {
				n++
			}
		}
		return n
	}

	x, y := line(20)
	report, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.Zero(t, split(report))

	x, y = line(21)
	report, err = e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, split(report))
}

func TestRunStableTies(t *testing.T) {
	reg := catalog.NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, reg.Register(catalog.ElementaryModel{
			Name:   name,
			Params: []string{"a", "b"},
			Fn:     func(x float64, p []float64) float64 { return p[0]*x + p[1] },
		}))
	}

	e := NewEngine(reg)
	x, y := line(15)
	cfg := DefaultConfig()
	cfg.MaxCombination = 1
	cfg.Workers = 3

	report, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, report.Results[0].Cost, report.Results[2].Cost)
	assert.Equal(t, "first", report.Results[0].ModelName)
	assert.Equal(t, "second", report.Results[1].ModelName)
	assert.Equal(t, "third", report.Results[2].ModelName)
}

func TestRunObserver(t *testing.T) {
	e := NewEngine(catalog.Default())
	x, y := line(10)

	var mu sync.Mutex
	events := make(map[int]Event)

	cfg := DefaultConfig()
	cfg.Functions = []string{"linear", "quadratic", "exponential"}
	cfg.Observer = func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events[ev.Index] = ev
	}

	report, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)

	assert.Len(t, events, report.Candidates)
	for _, ev := range events {
		assert.Equal(t, report.Candidates, ev.Total)
		assert.Contains(t, []State{Succeeded, Failed}, ev.State)
	}
}

func TestRunObserverPanicDoesNotAbort(t *testing.T) {
	e := NewEngine(catalog.Default())
	x, y := line(10)

	cfg := DefaultConfig()
	cfg.Functions = []string{"linear", "quadratic"}
	cfg.Observer = func(ev Event) {
		panic("observer failed on " + ev.ModelName)
	}

	report, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.Equal(t, report.Candidates, len(report.Results)+len(report.Failures))
	assert.NotEmpty(t, report.Results)
}

func TestRunIndeterminateCovarianceWarns(t *testing.T) {
	e := NewEngine(catalog.Default())
	cfg := DefaultConfig()
	cfg.Functions = []string{"quadratic"}
	cfg.MaxCombination = 1

	// Two points and three parameters; the default guess already
	// interpolates them.
	report, err := e.Run(context.Background(), []float64{0, 1}, []float64{1, 3}, cfg)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.True(t, res.CovarianceIndeterminate)
	assert.True(t, math.IsInf(res.StandardErrors[0], 1))

	var found bool
	for _, w := range report.Warnings {
		if strings.Contains(w, errs.ErrIndeterminateCovariance.Error()) {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", report.Warnings)
}

func TestRunZeroSuccessesIsValid(t *testing.T) {
	reg := catalog.NewRegistry()
	require.NoError(t, reg.Register(catalog.ElementaryModel{
		Name:   "broken",
		Params: []string{"a"},
		Fn:     func(float64, []float64) float64 { return math.Inf(1) },
	}))

	x, y := line(5)
	report, err := NewEngine(reg).Run(context.Background(), x, y, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Nil(t, report.Best())
	assert.Len(t, report.Failures, report.Candidates)
}

func TestRunCancelled(t *testing.T) {
	e := NewEngine(catalog.Default())
	x, y := line(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.Run(ctx, x, y, DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
	assert.Len(t, report.Failures, report.Candidates)
}

func TestRunRejectsBadData(t *testing.T) {
	e := NewEngine(catalog.Default())

	tests := []struct {
		name string
		x, y []float64
		cfg  func(*Config)
	}{
		{"empty", nil, nil, nil},
		{"mismatch", []float64{1, 2}, []float64{1}, nil},
		{"nan", []float64{1, 2}, []float64{1, math.NaN()}, nil},
		{"inf x", []float64{math.Inf(1), 2}, []float64{1, 2}, nil},
		{"sigma length", []float64{1, 2}, []float64{1, 2}, func(c *Config) { c.Sigma = []float64{1} }},
		{"unknown function", []float64{1, 2}, []float64{1, 2}, func(c *Config) { c.Functions = []string{"nope"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			report, err := e.Run(context.Background(), tt.x, tt.y, cfg)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Nil(t, report)
		})
	}
}

func TestRunSigmaAppliesToEveryCandidate(t *testing.T) {
	e := NewEngine(catalog.Default())
	x, y := line(10)

	cfg := DefaultConfig()
	cfg.Functions = []string{"linear"}
	plain, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)

	cfg.Sigma = make([]float64, len(x))
	for i := range cfg.Sigma {
		cfg.Sigma[i] = 1
	}
	weighted, err := e.Run(context.Background(), x, y, cfg)
	require.NoError(t, err)

	assert.InDeltaSlice(t, plain.Results[0].Parameters, weighted.Results[0].Parameters, 1e-12)
	assert.InDelta(t, plain.Results[0].Cost, weighted.Results[0].Cost, 1e-12)
}
