// Package catalog provides the named elementary models that candidate
// expressions are assembled from.
package catalog

import (
	"log/slog"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// Func evaluates an elementary model at x for parameters p.
// len(p) always equals the model's parameter count.
type Func func(x float64, p []float64) float64

// ElementaryModel is a named scalar function with a fixed parameter list.
type ElementaryModel struct {
	Name   string
	Params []string
	Fn     Func

	// Constant marks the degenerate constant model. It is excluded from the
	// non-constant subset and gets the plain piecewise form when paired with
	// itself.
	Constant bool
}

// ParameterCount returns the number of free parameters of the model.
func (m ElementaryModel) ParameterCount() int {
	return len(m.Params)
}

// Registry is an ordered set of elementary models addressed by name.
// A Registry is not safe for concurrent mutation; once populated it is
// read-only and can be shared freely.
type Registry struct {
	models []ElementaryModel
	index  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends a model to the registry.
func (r *Registry) Register(m ElementaryModel) error {
	if m.Name == "" {
		return errs.Invalid("catalog", "model name cannot be empty")
	}
	if m.Fn == nil {
		return errs.Invalid("catalog", "model %q has no function", m.Name)
	}
	if m.ParameterCount() < 1 {
		return errs.Invalid("catalog", "model %q must declare at least one parameter", m.Name)
	}
	if _, exists := r.index[m.Name]; exists {
		return errs.Invalid("catalog", "model %q already registered", m.Name)
	}

	r.index[m.Name] = len(r.models)
	r.models = append(r.models, m)
	slog.Debug("Registered elementary model", "model", m.Name, "params", m.ParameterCount())
	return nil
}

// Lookup returns the model registered under name.
func (r *Registry) Lookup(name string) (ElementaryModel, bool) {
	i, ok := r.index[name]
	if !ok {
		return ElementaryModel{}, false
	}
	return r.models[i], true
}

// Names lists every registered model in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.models))
	for i, m := range r.models {
		names[i] = m.Name
	}
	return names
}

// NonConstantNames lists the registered models not flagged Constant.
func (r *Registry) NonConstantNames() []string {
	names := make([]string, 0, len(r.models))
	for _, m := range r.models {
		if !m.Constant {
			names = append(names, m.Name)
		}
	}
	return names
}

// Models returns a copy of the registered models.
func (r *Registry) Models() []ElementaryModel {
	return append([]ElementaryModel(nil), r.models...)
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.models)
}
