package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when a sequence of costs counts as stalled.
type ConvergenceConfig struct {
	// Enabled controls whether stall detection is active
	Enabled bool

	// Patience is the number of consecutive updates without significant
	// improvement before the sequence counts as converged
	Patience int

	// Threshold is the minimum relative improvement required to count as progress
	// Relative improvement = (oldCost - newCost) / oldCost
	Threshold float64
}

// DefaultConvergenceConfig returns the tracker settings the least-squares
// solvers start from: stop on the first update that improves the cost by
// less than the relative tolerance. Solvers override Threshold with FTol.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  1,
		Threshold: 1e-8,
	}
}

// ConvergenceTracker detects when a minimization has stalled.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	updates         int
	lastSignificant float64
	staleCount      int
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		lastSignificant: math.Inf(1),
	}
}

// Update records a new cost value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.updates++
	if c.updates == 1 {
		c.lastSignificant = cost
		return false
	}

	relativeImprovement := (c.lastSignificant - cost) / c.lastSignificant
	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Debug("Cost stalled",
			"cost", cost,
			"last_significant", c.lastSignificant,
			"relative_improvement", relativeImprovement,
			"stale_count", c.staleCount,
		)
		return true
	}
	return false
}
