package search

import (
	"runtime"

	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/model"
	"github.com/cwbudde/curvesearch/internal/opt"
)

const (
	// MinPiecewisePoints is the smallest sample count for which split
	// candidates are generated.
	MinPiecewisePoints = 21

	// DefaultMaxCombination is the default arity of arithmetic composites.
	DefaultMaxCombination = 2

	// PracticalMaxCombination is the largest arity that runs in reasonable
	// time over the full catalog. Larger values are accepted with a warning.
	PracticalMaxCombination = 4
)

// Config describes one search run.
type Config struct {
	// Functions restricts the catalog. Empty means every registered model.
	// Caller order is kept and duplicates are dropped.
	Functions []string

	// Operator combines arithmetic composites. Piecewise is not allowed
	// here; use the Piecewise flag instead.
	Operator model.Rule

	Piecewise      bool
	MaxCombination int

	// Fit settings shared by every candidate.
	Method        string
	MaxFuncEvals  int
	MaxIterations int
	Tolerance     float64
	Sigma         []float64
	AbsoluteSigma bool

	// Workers bounds concurrent fits. Zero selects runtime.NumCPU().
	Workers int

	// Seeder, when set, picks each candidate's initial guess by a global
	// search instead of the deterministic default guess.
	Seeder    opt.Optimizer
	SeedRange float64

	// Observer is called once per finished candidate from worker
	// goroutines; it must be safe for concurrent use.
	Observer Observer
}

// DefaultConfig returns a configuration that searches the whole catalog
// with sums of up to two models.
func DefaultConfig() Config {
	return Config{
		Operator:       model.Sum,
		MaxCombination: DefaultMaxCombination,
	}
}

// Validate checks the parts of the configuration that do not depend on
// the catalog.
func (c Config) Validate() error {
	if c.MaxCombination < 0 {
		return errs.Invalid("max_combination", "must not be negative, got %d", c.MaxCombination)
	}
	if c.Operator == model.Piecewise || c.Operator.Symbol() == "" {
		return errs.Invalid("operator", "must be one of + - * /, got %v", c.Operator)
	}
	if c.Workers < 0 {
		return errs.Invalid("workers", "must not be negative, got %d", c.Workers)
	}
	if c.MaxFuncEvals < 0 {
		return errs.Invalid("max_function_evals", "must not be negative, got %d", c.MaxFuncEvals)
	}
	if c.MaxIterations < 0 {
		return errs.Invalid("max_iterations", "must not be negative, got %d", c.MaxIterations)
	}
	if c.Tolerance < 0 {
		return errs.Invalid("tolerance", "must not be negative, got %v", c.Tolerance)
	}
	switch c.Method {
	case "", opt.MethodLM, opt.MethodTRF, opt.MethodLBFGS:
	default:
		return errs.Invalid("method", "unknown solver %q", c.Method)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
