package search

import (
	"fmt"
	"sort"

	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/model"
)

// Candidate is one compiled model waiting to be fitted. Index is its
// position in generation order and breaks cost ties in the report.
type Candidate struct {
	Index int
	Spec  *model.Spec
}

// Generate enumerates the candidate models for a dataset of n points:
// every requested single, then every ordered split pair when requested
// and n is large enough, then every sorted combination of 2 up to
// MaxCombination models in which at most one member is a constant model.
// Arity stops at PracticalMaxCombination; larger requests are accepted
// with a warning. The returned warnings are configuration warnings, not
// failures.
func (e *Engine) Generate(cfg Config, n int) ([]Candidate, []string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	names, err := e.resolve(cfg.Functions)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if len(names) < 2 {
		w := &errs.ConfigurationWarning{
			Message: fmt.Sprintf("only %d function requested, a direct curve fit is simpler", len(names)),
		}
		warnings = append(warnings, w.Error())
	}
	if cfg.MaxCombination > PracticalMaxCombination {
		w := &errs.ConfigurationWarning{
			Message: fmt.Sprintf("max combination %d exceeds %d, composites are capped at %d functions", cfg.MaxCombination, PracticalMaxCombination, PracticalMaxCombination),
		}
		warnings = append(warnings, w.Error())
	}

	type request struct {
		names []string
		rule  model.Rule
	}
	var requests []request

	if cfg.MaxCombination >= 1 {
		for _, name := range names {
			requests = append(requests, request{[]string{name}, cfg.Operator})
		}
	}

	if cfg.Piecewise && n >= MinPiecewisePoints {
		for _, a := range names {
			for _, b := range names {
				requests = append(requests, request{[]string{a, b}, model.Piecewise})
			}
		}
	}

	variable := make(map[string]bool)
	for _, name := range e.compiler.Registry().NonConstantNames() {
		variable[name] = true
	}
	for size := 2; size <= min(cfg.MaxCombination, PracticalMaxCombination); size++ {
		for _, tuple := range combinations(names, size, variable) {
			requests = append(requests, request{tuple, cfg.Operator})
		}
	}

	candidates := make([]Candidate, 0, len(requests))
	for i, r := range requests {
		spec, err := e.compiler.Compile(r.names, r.rule, "")
		if err != nil {
			return nil, nil, fmt.Errorf("compile candidate %d: %w", i, err)
		}
		candidates = append(candidates, Candidate{Index: i, Spec: spec})
	}
	return candidates, warnings, nil
}

// resolve maps the requested names onto the catalog, keeping caller order
// and dropping duplicates. An empty request selects the whole catalog.
func (e *Engine) resolve(requested []string) ([]string, error) {
	reg := e.compiler.Registry()
	if len(requested) == 0 {
		return reg.Names(), nil
	}

	seen := make(map[string]bool, len(requested))
	names := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := reg.Lookup(name); !ok {
			return nil, errs.Invalid("functions", "unknown catalog name %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// combinations returns the multisets of the given size drawn from names,
// each sorted alphabetically, in which at most one member is missing from
// variable. The result is sorted lexicographically.
func combinations(names []string, size int, variable map[string]bool) [][]string {
	pool := append([]string(nil), names...)
	sort.Strings(pool)

	var out [][]string
	tuple := make([]string, size)
	var walk func(pos, start, constants int)
	walk = func(pos, start, constants int) {
		if pos == size {
			out = append(out, append([]string(nil), tuple...))
			return
		}
		for i := start; i < len(pool); i++ {
			c := constants
			if !variable[pool[i]] {
				c++
			}
			if c > 1 {
				continue
			}
			tuple[pos] = pool[i]
			walk(pos+1, i, c)
		}
	}
	walk(0, 0, 0)
	return out
}
