package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// Solver is the adapter between formulations and the underlying numerical
// methods. It normalizes solver-specific outcomes into the engine's status
// taxonomy and applies the reporting tolerances. A Solver holds no mutable
// state, so one instance may serve concurrent requests.
type Solver struct {
	log zerolog.Logger
}

// NewSolver creates a new solver adapter.
func NewSolver(log zerolog.Logger) *Solver {
	return &Solver{
		log: log.With().Str("component", "solver").Logger(),
	}
}

// Solve runs the formulation to completion (or timeout) and returns a
// Solution. Solver-level issues never surface as errors: they are
// normalized into Solution.SolverStatus. The error return is reserved for
// misuse (nil or inconsistent formulations).
func (s *Solver) Solve(f *Formulation, opts SolverOptions) (*domain.Solution, error) {
	if f == nil {
		return nil, fmt.Errorf("nil formulation")
	}
	if opts.Timeout <= 0 || opts.MaxIterations <= 0 {
		opts = DefaultSolverOptions()
	}

	switch f.mode {
	case domain.ModeContinuous:
		return s.solveContinuousFormulation(f.continuous, opts), nil
	case domain.ModeDiscrete:
		return s.solveDiscreteFormulation(f.discrete, opts), nil
	default:
		return nil, fmt.Errorf("formulation has unknown mode %q", f.mode)
	}
}

func (s *Solver) solveContinuousFormulation(cf *continuousFormulation, opts SolverOptions) *domain.Solution {
	weights, sol := solveContinuous(cf, opts, s.log)
	if weights == nil {
		s.log.Warn().
			Str("status", string(sol.SolverStatus)).
			Str("binding_constraint", sol.BindingConstraint).
			Msg("Continuous solve returned no allocation")
		return sol
	}

	sol.Weights = make(map[string]float64, len(cf.ids)+len(cf.excluded))
	for i, id := range cf.ids {
		sol.Weights[id] = weights[i]
	}
	// Items removed by the cardinality pre-filter are reported explicitly
	// at zero so the output covers the full item set.
	for _, id := range cf.excluded {
		sol.Weights[id] = 0
	}

	s.log.Info().
		Str("status", string(sol.SolverStatus)).
		Int("active_items", len(cf.ids)).
		Float64("objective", sol.ObjectiveValue).
		Msg("Continuous solve finished")
	return sol
}

func (s *Solver) solveDiscreteFormulation(df *discreteFormulation, opts SolverOptions) *domain.Solution {
	result, sol := solveDiscrete(df, opts, s.log)
	if result == nil {
		s.log.Warn().
			Str("status", string(sol.SolverStatus)).
			Str("binding_constraint", sol.BindingConstraint).
			Msg("Discrete solve returned no selection")
		return sol
	}

	// Run the raw decision vector through binary normalization: every
	// backend feeding this adapter must resolve binaries to {0,1} within
	// tolerance.
	raw := make([]float64, 0, len(result.selected)+len(result.actions))
	for _, b := range result.selected {
		raw = append(raw, boolToFloat(b))
	}
	for _, b := range result.actions {
		raw = append(raw, boolToFloat(b))
	}
	binaries, err := normalizeBinaries(raw)
	if err != nil {
		s.log.Error().Err(err).Msg("Discrete solve produced out-of-tolerance binaries")
		sol.Feasible = false
		sol.SolverStatus = domain.StatusNumericalError
		return sol
	}

	sol.Selected = make(map[string]bool, len(df.items))
	sol.SelectedActions = make(map[string][]string)
	var budget float64
	for i, item := range df.items {
		sol.Selected[item.id] = binaries[i]
		if binaries[i] {
			budget += item.cost
		}
	}
	for j, id := range df.actionIDs {
		if !binaries[len(df.items)+j] {
			continue
		}
		owner := df.items[df.actionOwner[j]]
		sol.SelectedActions[owner.id] = append(sol.SelectedActions[owner.id], id)
		budget += owner.actions[actionSlot(df, j)].cost
	}
	for _, ids := range sol.SelectedActions {
		sort.Strings(ids)
	}

	s.log.Info().
		Str("status", string(sol.SolverStatus)).
		Float64("objective", sol.ObjectiveValue).
		Float64("budget_used", budget).
		Msg("Discrete solve finished")
	return sol
}

// normalizeBinaries rounds raw binary variables to booleans. Any value
// outside [-BinaryTolerance, 1+BinaryTolerance] is a numerical error: it
// means the backend did not resolve the variable to {0,1}.
func normalizeBinaries(raw []float64) ([]bool, error) {
	out := make([]bool, len(raw))
	for i, v := range raw {
		if v < -BinaryTolerance || v > 1+BinaryTolerance || math.IsNaN(v) {
			return nil, &domain.NumericalError{
				Detail: fmt.Sprintf("binary variable %d resolved to %g", i, v),
			}
		}
		out[i] = v > 0.5
	}
	return out, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
