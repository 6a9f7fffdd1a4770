package opt

// Optimizer is a derivative-free global minimizer over a box. The fitting
// layer uses it to seed local least-squares solves.
type Optimizer interface {
	// Run minimizes eval over [lower, upper] in dim dimensions and returns
	// the best point with its cost. Every bound must be finite.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
