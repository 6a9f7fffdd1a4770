package catalog

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// skewTransition is the skew below which pearson3 collapses to the normal
// density.
const skewTransition = 1.6e-5

// Default returns a new registry holding the built-in models.
func Default() *Registry {
	r := NewRegistry()
	for _, m := range builtins() {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []ElementaryModel {
	return []ElementaryModel{
		{Name: "constant", Params: []string{"a"}, Fn: constant, Constant: true},
		{Name: "linear", Params: []string{"a", "b"}, Fn: linear},
		{Name: "quadratic", Params: []string{"a", "b", "c"}, Fn: quadratic},
		{Name: "cubic", Params: []string{"a", "b", "c", "d"}, Fn: cubic},
		{Name: "gaussian", Params: []string{"a", "b", "c"}, Fn: gaussian},
		{Name: "erf", Params: []string{"a", "b", "c"}, Fn: erf},
		{Name: "cauchy", Params: []string{"a", "b", "c"}, Fn: cauchy},
		{Name: "pearson3", Params: []string{"a", "b", "c", "d"}, Fn: pearson3},
		{Name: "exponential", Params: []string{"a", "b"}, Fn: exponential},
		{Name: "logarithm", Params: []string{"a", "b"}, Fn: logarithm},
		{Name: "logistic", Params: []string{"a", "b", "c"}, Fn: logistic},
		{Name: "power_law", Params: []string{"a", "b"}, Fn: powerLaw},
		{Name: "reciprocal", Params: []string{"a", "b"}, Fn: reciprocal},
	}
}

func constant(_ float64, p []float64) float64 {
	return p[0]
}

func linear(x float64, p []float64) float64 {
	return p[0]*x + p[1]
}

func quadratic(x float64, p []float64) float64 {
	return p[0]*x*x + p[1]*x + p[2]
}

func cubic(x float64, p []float64) float64 {
	return p[0]*x*x*x + p[1]*x*x + p[2]*x + p[3]
}

func gaussian(x float64, p []float64) float64 {
	d := x - p[1]
	return p[0] * math.Exp(-d*d/(2*p[2]*p[2]))
}

func erf(x float64, p []float64) float64 {
	return p[0] * math.Erf((x-p[1])/p[2])
}

// cauchy scales the Cauchy density with location p[1] and scale p[2].
func cauchy(x float64, p []float64) float64 {
	scale := p[2]
	if scale <= 0 {
		return math.NaN()
	}
	z := (x - p[1]) / scale
	return p[0] / (math.Pi * scale * (1 + z*z))
}

// pearson3 scales the Pearson type III density. Positive skew puts the
// support on the right of loc - 2*scale/skew, negative skew on the left.
func pearson3(x float64, p []float64) float64 {
	amp, skew, loc, scale := p[0], p[1], p[2], p[3]
	if scale <= 0 {
		return math.NaN()
	}
	z := (x - loc) / scale

	if math.Abs(skew) < skewTransition {
		return amp * distuv.UnitNormal.Prob(z) / scale
	}

	beta := 2 / skew
	alpha := beta * beta
	zeta := -alpha / beta
	g := distuv.Gamma{Alpha: alpha, Beta: 1}
	return amp * math.Abs(beta) * g.Prob(beta*(z-zeta)) / scale
}

func exponential(x float64, p []float64) float64 {
	return p[0] * math.Pow(p[1], x)
}

func logarithm(x float64, p []float64) float64 {
	base := p[1]
	if base == 1 {
		base += 0.001
	}
	return p[0] * math.Log(x) / math.Log(base)
}

func logistic(x float64, p []float64) float64 {
	return p[0] / (1 + math.Exp(-(p[1]*x + p[2])))
}

func powerLaw(x float64, p []float64) float64 {
	return p[0] * math.Pow(x, p[1])
}

func reciprocal(x float64, p []float64) float64 {
	return 1 / (p[0]*x + p[1])
}
