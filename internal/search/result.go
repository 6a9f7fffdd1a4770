package search

import (
	"fmt"
	"time"

	"github.com/cwbudde/curvesearch/internal/model"
)

// State is the lifecycle position of a candidate.
type State int

const (
	Generated State = iota
	BoundsComputed
	Fitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Generated:
		return "generated"
	case BoundsComputed:
		return "bounds_computed"
	case Fitting:
		return "fitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FitResult is the outcome of one successfully fitted candidate.
type FitResult struct {
	ModelName      string
	Form           string
	Symbols        []string
	Functions      []string
	Rule           model.Rule
	Parameters     []float64
	StandardErrors []float64

	// Cost is the sum of squared (weighted) residuals.
	Cost float64

	CovarianceIndeterminate bool
	Method                  string
	Iterations              int
	FuncEvals               int

	spec *model.Spec
}

// Evaluate returns the fitted model at xs. It returns nil for results that
// were not produced by an Engine in this process.
func (r *FitResult) Evaluate(xs []float64) []float64 {
	if r.spec == nil {
		return nil
	}
	return r.spec.EvalAll(nil, xs, r.Parameters)
}

// Spec returns the compiled model behind the result, or nil.
func (r *FitResult) Spec() *model.Spec {
	return r.spec
}

// Failure records why a candidate was dropped.
type Failure struct {
	Index     int
	ModelName string

	// Stage is the last state the candidate reached before failing.
	Stage State
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("candidate %d (%s) failed after %s: %v", f.Index, f.ModelName, f.Stage, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report is the ranked outcome of a search.
type Report struct {
	// Results is sorted by ascending cost, ties in generation order.
	Results    []FitResult
	Failures   []Failure
	Warnings   []string
	Candidates int
	Samples    int
	Elapsed    time.Duration
}

// Best returns the lowest-cost result, or nil when nothing converged.
func (r *Report) Best() *FitResult {
	if len(r.Results) == 0 {
		return nil
	}
	return &r.Results[0]
}

// Find returns the result with the given model name, or nil.
func (r *Report) Find(name string) *FitResult {
	for i := range r.Results {
		if r.Results[i].ModelName == name {
			return &r.Results[i]
		}
	}
	return nil
}

// Event is passed to an Observer whenever a candidate finishes.
type Event struct {
	Index     int
	Total     int
	ModelName string
	State     State
	Cost      float64
	Err       error
}

// Observer receives candidate events.
type Observer func(Event)
