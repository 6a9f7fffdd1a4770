// Package search enumerates candidate models from the catalog, fits them
// concurrently and ranks the survivors by cost.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/fit"
	"github.com/cwbudde/curvesearch/internal/model"
)

// Engine runs searches against one catalog. It holds no per-run state and
// may be shared across goroutines.
type Engine struct {
	compiler *model.Compiler
}

// NewEngine creates an engine over reg.
func NewEngine(reg *catalog.Registry) *Engine {
	return &Engine{compiler: model.NewCompiler(reg)}
}

// Compiler exposes the engine's model compiler.
func (e *Engine) Compiler() *model.Compiler {
	return e.compiler
}

type outcome struct {
	result  *FitResult
	failure *Failure
	warning string
}

// Run fits every generated candidate to (x, y) and returns the ranked
// report. Malformed data or configuration is returned as a
// ValidationError before any fit starts. Candidate failures never abort
// the batch; they are listed in Report.Failures. When ctx is cancelled no
// further candidates are scheduled and the partial report is returned
// together with the context error.
func (e *Engine) Run(ctx context.Context, x, y []float64, cfg Config) (*Report, error) {
	start := time.Now()

	if err := validateData(x, y, cfg.Sigma); err != nil {
		return nil, err
	}
	candidates, warnings, err := e.Generate(cfg, len(x))
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		slog.Warn("Search configuration", "warning", w)
	}

	slog.Info("Search started",
		"candidates", len(candidates),
		"samples", len(x),
		"workers", cfg.workers(),
	)

	outcomes := make([]outcome, len(candidates))
	scheduled := 0
	p := pool.New().WithMaxGoroutines(cfg.workers())
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		p.Go(func() {
			outcomes[i] = e.fitCandidate(ctx, candidates[i], x, y, cfg)
			notify(cfg.Observer, outcomes[i], candidates[i], len(candidates))
		})
	}
	p.Wait()

	report := &Report{
		Warnings:   warnings,
		Candidates: len(candidates),
		Samples:    len(x),
	}
	for i, o := range outcomes {
		switch {
		case i >= scheduled:
			report.Failures = append(report.Failures, Failure{
				Index:     candidates[i].Index,
				ModelName: candidates[i].Spec.Name,
				Stage:     Generated,
				Err:       ctx.Err(),
			})
		case o.result != nil:
			report.Results = append(report.Results, *o.result)
		case o.failure != nil:
			report.Failures = append(report.Failures, *o.failure)
		}
		if o.warning != "" {
			report.Warnings = append(report.Warnings, o.warning)
		}
	}

	sort.SliceStable(report.Results, func(a, b int) bool {
		return report.Results[a].Cost < report.Results[b].Cost
	})
	report.Elapsed = time.Since(start)

	attrs := []any{
		"succeeded", len(report.Results),
		"failed", len(report.Failures),
		"elapsed", report.Elapsed,
	}
	if best := report.Best(); best != nil {
		attrs = append(attrs, "best", best.ModelName, "cost", best.Cost)
	}
	slog.Info("Search finished", attrs...)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("search interrupted: %w", err)
	}
	return report, nil
}

// fitCandidate drives one candidate through bounds and fitting. Errors and
// panics are converted into a Failure.
func (e *Engine) fitCandidate(ctx context.Context, c Candidate, x, y []float64, cfg Config) (out outcome) {
	state := Generated
	fail := func(err error) outcome {
		slog.Debug("Candidate failed",
			"model", c.Spec.Name,
			"stage", state,
			"error", err,
		)
		return outcome{failure: &Failure{Index: c.Index, ModelName: c.Spec.Name, Stage: state, Err: err}}
	}
	defer func() {
		if r := recover(); r != nil {
			out = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	bounds, err := fit.DeriveBounds(c.Spec, x, y)
	if err != nil {
		return fail(err)
	}
	state = BoundsComputed
	slog.Debug("Bounds derived", "model", c.Spec.Name, "bounded", bounds.Active())

	state = Fitting
	res, err := fit.CurveFit(ctx, c.Spec, x, y, fit.Options{
		Bounds:        bounds,
		Method:        cfg.Method,
		Sigma:         cfg.Sigma,
		AbsoluteSigma: cfg.AbsoluteSigma,
		MaxFuncEvals:  cfg.MaxFuncEvals,
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
		Seeder:        cfg.Seeder,
		SeedRange:     cfg.SeedRange,
	})
	if err != nil {
		return fail(err)
	}
	if math.IsNaN(res.Cost) || math.IsInf(res.Cost, 0) {
		return fail(fmt.Errorf("non-finite cost %v", res.Cost))
	}

	out.result = &FitResult{
		ModelName:               c.Spec.Name,
		Form:                    c.Spec.Form,
		Symbols:                 c.Spec.Symbols,
		Functions:               c.Spec.Functions,
		Rule:                    c.Spec.Rule,
		Parameters:              res.Params,
		StandardErrors:          res.StandardErrors(),
		Cost:                    res.Cost,
		CovarianceIndeterminate: res.CovarianceIndeterminate,
		Method:                  res.Method,
		Iterations:              res.Iterations,
		FuncEvals:               res.FuncEvals,
		spec:                    c.Spec,
	}
	if res.CovarianceIndeterminate {
		out.warning = fmt.Sprintf("%s: %v", c.Spec.Name, errs.ErrIndeterminateCovariance)
	}
	slog.Debug("Candidate fitted",
		"model", c.Spec.Name,
		"cost", res.Cost,
		"iterations", res.Iterations,
	)
	return out
}

// notify reports a finished candidate to obs. A panicking observer is
// logged and does not abort the batch.
func notify(obs Observer, o outcome, c Candidate, total int) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Observer panicked", "model", c.Spec.Name, "panic", r)
		}
	}()
	ev := Event{Index: c.Index, Total: total, ModelName: c.Spec.Name}
	if o.result != nil {
		ev.State = Succeeded
		ev.Cost = o.result.Cost
	} else {
		ev.State = Failed
		ev.Cost = math.Inf(1)
		if o.failure != nil {
			ev.Err = o.failure.Err
		}
	}
	obs(ev)
}

func validateData(x, y, sigma []float64) error {
	if len(x) == 0 || len(y) == 0 {
		return errs.Invalid("data", "x and y must not be empty")
	}
	if len(x) != len(y) {
		return errs.Invalid("data", "x has %d samples, y has %d", len(x), len(y))
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return errs.Invalid("data", "sample %d is not finite", i)
		}
	}
	if sigma != nil && len(sigma) != len(y) {
		return errs.Invalid("sigma", "has %d entries for %d samples", len(sigma), len(y))
	}
	return nil
}
