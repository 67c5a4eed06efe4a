// Package optimization implements the constrained decision-allocation
// engine: input validation, problem formulation, solving, and post-solve
// analytics.
package optimization

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// Numerical tolerances shared across the engine.
const (
	// SymmetryTolerance bounds the allowed asymmetry of a covariance input.
	SymmetryTolerance = 1e-8
	// PSDTolerance is how negative the smallest eigenvalue may be before a
	// covariance matrix is considered non-PSD.
	PSDTolerance = 1e-8
	// WeightTolerance is the threshold below which a reported allocation
	// weight is clamped to exactly zero.
	WeightTolerance = 1e-6
	// BinaryTolerance bounds how far a raw binary variable may sit outside
	// {0,1} before the solve is flagged as a numerical error.
	BinaryTolerance = 1e-6
)

// SolverOptions carries per-call solver configuration. Options are passed
// explicitly with each solve rather than held as process-global state, so
// concurrent requests never share mutable configuration.
type SolverOptions struct {
	Timeout       time.Duration
	MaxIterations int
}

// DefaultSolverOptions returns the options used when a caller supplies none.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		Timeout:       10 * time.Second,
		MaxIterations: 2000,
	}
}

// ValidatedProblem is the validator's output: inputs that passed every
// sanity check, with the covariance matrix (when present) already converted
// to a symmetric gonum matrix.
type ValidatedProblem struct {
	Items  []domain.Item
	Sigma  *mat.SymDense // nil in discrete mode without covariance
	Config domain.Configuration

	// CovarianceRepaired is true when the opt-in nearest-PSD projection
	// modified the input covariance.
	CovarianceRepaired bool
}

// Formulation is an opaque problem formulation consumed only by the solver
// adapter. Exactly one of continuous/discrete is set.
type Formulation struct {
	mode       domain.Mode
	continuous *continuousFormulation
	discrete   *discreteFormulation
}

// Mode reports the problem shape this formulation encodes.
func (f *Formulation) Mode() domain.Mode { return f.mode }

// continuousFormulation is the mean-variance problem over the items that
// survived the cardinality pre-filter:
//
//	minimize  w'Σw − λ·μ'w
//	s.t.      Σw_i = capacity,  0 ≤ w_i ≤ 1
//
// Excluded items are fixed at weight zero.
type continuousFormulation struct {
	ids        []string // active item ids, formulation order
	mu         []float64
	sigma      *mat.SymDense // submatrix over active items
	capacity   float64
	lambda     float64
	excluded   []string  // pre-filtered items, reported with weight 0
	excludedMu []float64 // their expected values, for deterministic ranking

	// targetValue, when set, switches the objective to pure variance
	// minimization subject to μ'w ≥ targetValue. Used by the frontier
	// sweep and the minimum-variance solve (targetValue = -Inf).
	targetValue *float64
}

// discreteItem is one binary decision unit with its eligible sub-actions.
type discreteItem struct {
	id        string
	value     float64
	cost      float64
	qualifies bool
	actions   []discreteAction
}

type discreteAction struct {
	id     string
	uplift float64
	cost   float64
}

// actionDep is a dependency edge resolved to flat action indices.
type actionDep struct {
	source int
	target int
}

// discreteFormulation is the selection problem:
//
//	maximize  Σ select_i·value_i + Σ act_j·uplift_j
//	s.t.      Σ select_i ≤ maxItems
//	          Σ select_i·cost_i + Σ act_j·cost_j ≤ capacity
//	          act_j ≤ select(parent(j))
//	          Σ select_i·qualifies_i ≥ minQualifying
//	          act_target ≤ act_source for every dependency edge
type discreteFormulation struct {
	items         []discreteItem
	maxItems      int
	capacity      float64
	minQualifying int

	// sigma, when supplied, enables portfolio variance over the selected
	// items; otherwise discrete variance is omitted from reports.
	sigma *mat.SymDense

	// Flattened action index: actionOwner[j] is the item index owning
	// action j, actionOrder is a topological order of the dependency DAG.
	actionOwner []int
	actionIDs   []string
	actionOrder []int
	deps        []actionDep
}
