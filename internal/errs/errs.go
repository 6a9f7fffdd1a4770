// Package errs holds the error types shared by the model compiler, the
// least-squares adapter and the search engine.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input: unknown catalog names, bad
// bounds, shape mismatches or non-finite samples. It is always fatal to
// the call that produced it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// Invalid builds a ValidationError with a formatted reason.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConvergenceError is returned when a solver exhausts its iteration or
// evaluation budget without meeting a convergence criterion.
type ConvergenceError struct {
	Method     string
	Message    string
	Iterations int
	FuncEvals  int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("optimal parameters not found (%s): %s after %d iterations, %d evaluations",
		e.Method, e.Message, e.Iterations, e.FuncEvals)
}

// IsConvergence reports whether err wraps a ConvergenceError.
func IsConvergence(err error) bool {
	var c *ConvergenceError
	return errors.As(err, &c)
}

// ErrIndeterminateCovariance marks a fit whose covariance could not be
// estimated. It is never returned as a failure; results carry it as a flag.
var ErrIndeterminateCovariance = errors.New("covariance of the parameters could not be estimated")

// ConfigurationWarning flags a legal but suspicious search configuration.
type ConfigurationWarning struct {
	Message string
}

func (w *ConfigurationWarning) Error() string {
	return "configuration warning: " + w.Message
}
