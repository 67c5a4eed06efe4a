package optimization

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// Builder assembles objective and constraint structures from a validated
// problem. It never mutates the input items.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new formulation builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		log: log.With().Str("component", "builder").Logger(),
	}
}

// Build produces a Formulation for the problem's configured mode.
func (b *Builder) Build(problem *ValidatedProblem) (*Formulation, error) {
	switch problem.Config.Mode {
	case domain.ModeContinuous:
		return b.buildContinuous(problem), nil
	case domain.ModeDiscrete:
		return b.buildDiscrete(problem), nil
	default:
		return nil, domain.NewValidationError("mode", "unknown problem mode")
	}
}

// buildContinuous assembles the mean-variance formulation. The cardinality
// limit is not natively convex, so when max_items < n the builder
// pre-selects the top max_items items by risk-adjusted score
// (expected_value / risk) and fixes the rest at weight zero. This is a
// deliberate heuristic, not an exact cardinality-constrained optimum.
func (b *Builder) buildContinuous(problem *ValidatedProblem) *Formulation {
	items := problem.Items
	cfg := problem.Config

	active, excluded := cardinalityPreFilter(items, cfg.MaxItems)

	n := len(active)
	mu := make([]float64, n)
	ids := make([]string, n)
	for i, idx := range active {
		ids[i] = items[idx].ID
		mu[i] = items[idx].ExpectedValue
	}

	// Covariance submatrix over the surviving items.
	sigma := mat.NewSymDense(n, nil)
	for i, ai := range active {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, problem.Sigma.At(ai, active[j]))
		}
	}

	excludedIDs := make([]string, len(excluded))
	excludedMu := make([]float64, len(excluded))
	for i, idx := range excluded {
		excludedIDs[i] = items[idx].ID
		excludedMu[i] = items[idx].ExpectedValue
	}

	b.log.Debug().
		Int("active", n).
		Int("excluded", len(excludedIDs)).
		Float64("capacity", cfg.Capacity).
		Float64("risk_aversion", cfg.RiskAversion).
		Msg("Built continuous formulation")

	return &Formulation{
		mode: domain.ModeContinuous,
		continuous: &continuousFormulation{
			ids:        ids,
			mu:         mu,
			sigma:      sigma,
			capacity:   cfg.Capacity,
			lambda:     cfg.RiskAversion,
			excluded:   excludedIDs,
			excludedMu: excludedMu,
		},
	}
}

// WithTargetValue returns a copy of a continuous formulation whose objective
// is pure variance minimization subject to a minimum portfolio expected
// value. The receiver is not modified; frontier sweep points are fully
// independent problems.
func (f *Formulation) WithTargetValue(target float64) *Formulation {
	if f.mode != domain.ModeContinuous {
		return f
	}
	clone := *f.continuous
	clone.targetValue = &target
	return &Formulation{mode: domain.ModeContinuous, continuous: &clone}
}

// cardinalityPreFilter returns the indices of the top maxItems items by
// risk-adjusted score and the indices of everything filtered out. Identity
// when maxItems >= n. Ties break by descending expected value, then by
// ascending id for determinism.
func cardinalityPreFilter(items []domain.Item, maxItems int) (active, excluded []int) {
	n := len(items)
	if maxItems >= n {
		active = make([]int, n)
		for i := range active {
			active[i] = i
		}
		return active, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		sa, sb := riskAdjustedScore(ia), riskAdjustedScore(ib)
		if sa != sb {
			return sa > sb
		}
		if ia.ExpectedValue != ib.ExpectedValue {
			return ia.ExpectedValue > ib.ExpectedValue
		}
		return ia.ID < ib.ID
	})

	active = append([]int(nil), order[:maxItems]...)
	excluded = append([]int(nil), order[maxItems:]...)

	// Keep formulation order stable relative to the input so downstream
	// reporting is deterministic.
	sort.Ints(active)
	sort.Ints(excluded)
	return active, excluded
}

// riskAdjustedScore is expected value per unit of risk. Zero-risk items
// rank ahead of everything.
func riskAdjustedScore(item domain.Item) float64 {
	if item.Risk == 0 {
		return math.Inf(1)
	}
	return item.ExpectedValue / item.Risk
}

// buildDiscrete assembles the binary selection formulation with dependent
// sub-actions. Dependency edges were already validated as a DAG.
func (b *Builder) buildDiscrete(problem *ValidatedProblem) *Formulation {
	items := problem.Items
	cfg := problem.Config

	dItems := make([]discreteItem, len(items))
	var actionOwner []int
	var actionIDs []string
	actionIndex := make(map[string]int)

	for i, item := range items {
		actions := make([]discreteAction, len(item.Actions))
		for j, action := range item.Actions {
			actions[j] = discreteAction{id: action.ID, uplift: action.Uplift, cost: action.Cost}
			actionIndex[action.ID] = len(actionIDs)
			actionOwner = append(actionOwner, i)
			actionIDs = append(actionIDs, action.ID)
		}
		dItems[i] = discreteItem{
			id:        item.ID,
			value:     item.ExpectedValue,
			cost:      item.Cost,
			qualifies: item.Qualifies(cfg.QualifyingFlag),
			actions:   actions,
		}
	}

	deps := make([]actionDep, 0, len(cfg.Dependencies))
	for _, edge := range cfg.Dependencies {
		deps = append(deps, actionDep{
			source: actionIndex[edge.SourceID],
			target: actionIndex[edge.TargetID],
		})
	}

	b.log.Debug().
		Int("items", len(dItems)).
		Int("actions", len(actionIDs)).
		Int("dependencies", len(deps)).
		Msg("Built discrete formulation")

	return &Formulation{
		mode: domain.ModeDiscrete,
		discrete: &discreteFormulation{
			items:         dItems,
			maxItems:      cfg.MaxItems,
			capacity:      cfg.Capacity,
			minQualifying: cfg.MinQualifying,
			sigma:         problem.Sigma,
			actionOwner:   actionOwner,
			actionIDs:     actionIDs,
			actionOrder:   topologicalActionOrder(len(actionIDs), deps),
			deps:          deps,
		},
	}
}

// topologicalActionOrder orders flat action indices so every dependency
// source precedes its targets. The input is already cycle-free.
func topologicalActionOrder(numActions int, deps []actionDep) []int {
	adjacency := make([][]int, numActions)
	indegree := make([]int, numActions)
	for _, d := range deps {
		adjacency[d.source] = append(adjacency[d.source], d.target)
		indegree[d.target]++
	}

	queue := make([]int, 0, numActions)
	for i := 0; i < numActions; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, numActions)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, next := range adjacency[node] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}
