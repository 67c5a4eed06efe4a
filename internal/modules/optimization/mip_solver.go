package optimization

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// discreteResult is the raw outcome of the branch-and-bound search.
type discreteResult struct {
	selected []bool // by item index
	actions  []bool // by flat action index
	value    float64
	budget   float64
	found    bool
	timedOut bool
}

// solveDiscrete solves the binary selection problem exactly via depth-first
// branch and bound: an outer search over item selections with an optimistic
// suffix bound, and an inner search over sub-actions of the selected items
// in dependency topological order. On deadline expiry the best incumbent
// found so far is returned, tagged TIMEOUT.
func solveDiscrete(df *discreteFormulation, opts SolverOptions, log zerolog.Logger) (*discreteResult, *domain.Solution) {
	if sol := checkDiscreteFeasibility(df); sol != nil {
		return nil, sol
	}

	search := newDiscreteSearch(df, time.Now().Add(opts.Timeout))
	result := search.run()

	if !result.found {
		if result.timedOut {
			// Deadline hit before any feasible incumbent.
			return nil, &domain.Solution{
				Feasible:     false,
				SolverStatus: domain.StatusTimeout,
				SolvedAt:     time.Now(),
			}
		}
		// Pre-checks guarantee a feasible point exists, so an exhausted
		// search without an incumbent means the search itself misbehaved.
		log.Error().Msg("Discrete search exhausted without incumbent despite feasible pre-checks")
		return nil, &domain.Solution{
			Feasible:     false,
			SolverStatus: domain.StatusNumericalError,
			SolvedAt:     time.Now(),
		}
	}

	status := domain.StatusOptimal
	if result.timedOut {
		status = domain.StatusTimeout
	}

	return result, &domain.Solution{
		ObjectiveValue: result.value,
		Feasible:       true,
		SolverStatus:   status,
		SolvedAt:       time.Now(),
	}
}

// checkDiscreteFeasibility triages obvious infeasibility before searching,
// naming the binding constraint so the caller can relax the right limit.
// When all three checks pass, selecting the cheapest qualifying items (and
// no actions) is feasible, so the search is guaranteed an incumbent.
func checkDiscreteFeasibility(df *discreteFormulation) *domain.Solution {
	infeasible := func(constraint string) *domain.Solution {
		return &domain.Solution{
			Feasible:          false,
			SolverStatus:      domain.StatusInfeasible,
			BindingConstraint: constraint,
			SolvedAt:          time.Now(),
		}
	}

	if df.minQualifying == 0 {
		return nil
	}

	var qualifyingCosts []float64
	for _, item := range df.items {
		if item.qualifies {
			qualifyingCosts = append(qualifyingCosts, item.cost)
		}
	}
	if len(qualifyingCosts) < df.minQualifying {
		return infeasible("eligibility")
	}
	if df.minQualifying > df.maxItems {
		return infeasible("cardinality")
	}

	sort.Float64s(qualifyingCosts)
	var cheapest float64
	for _, c := range qualifyingCosts[:df.minQualifying] {
		cheapest += c
	}
	if cheapest > df.capacity {
		return infeasible("capacity")
	}
	return nil
}

// discreteSearch holds the branch-and-bound state.
type discreteSearch struct {
	df       *discreteFormulation
	deadline time.Time

	// Items visited in descending value density for tighter early bounds.
	order []int
	// potential[k] is an optimistic bound on the value obtainable from
	// items order[k:], including their positive action uplifts.
	potential []float64
	// upside[i] is the positive action uplift item i could still add once
	// selected; the pruning bound must carry it because actions are only
	// resolved at the leaves.
	upside []float64
	// qualRemaining[k] counts qualifying items in order[k:].
	qualRemaining []int

	selected []bool
	best     discreteResult
	timedOut bool
	nodes    int
}

func newDiscreteSearch(df *discreteFormulation, deadline time.Time) *discreteSearch {
	n := len(df.items)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := df.items[order[a]], df.items[order[b]]
		return ia.value/ia.cost > ib.value/ib.cost
	})

	upside := make([]float64, n)
	for i, item := range df.items {
		for _, action := range item.actions {
			if action.uplift > 0 {
				upside[i] += action.uplift
			}
		}
	}

	potential := make([]float64, n+1)
	qualRemaining := make([]int, n+1)
	for k := n - 1; k >= 0; k-- {
		idx := order[k]
		gain := df.items[idx].value + upside[idx]
		if gain < 0 {
			gain = 0
		}
		potential[k] = potential[k+1] + gain
		qualRemaining[k] = qualRemaining[k+1]
		if df.items[idx].qualifies {
			qualRemaining[k]++
		}
	}

	return &discreteSearch{
		df:            df,
		deadline:      deadline,
		order:         order,
		potential:     potential,
		upside:        upside,
		qualRemaining: qualRemaining,
		selected:      make([]bool, n),
	}
}

func (s *discreteSearch) run() *discreteResult {
	s.branch(0, 0, 0, 0, 0, 0)
	s.best.timedOut = s.timedOut
	return &s.best
}

// branch explores item order[k:] given the partial selection accumulated in
// s.selected with the given budget, count, qualifying count, and exact item
// value. pending carries the optimistic action uplift of the items already
// selected, which the bound must include since actions are resolved at the
// leaves.
func (s *discreteSearch) branch(k int, budget float64, count, qual int, value, pending float64) {
	s.nodes++
	if s.timedOut || (s.nodes&255 == 0 && time.Now().After(s.deadline)) {
		s.timedOut = true
		return
	}

	// Qualifying shortfall can never be repaired by the remaining items.
	if qual+s.qualRemaining[k] < s.df.minQualifying {
		return
	}
	// Optimistic bound cannot beat the incumbent.
	if s.best.found && value+pending+s.potential[k] <= s.best.value {
		return
	}

	if k == len(s.order) {
		if qual < s.df.minQualifying {
			return
		}
		s.complete(budget, value)
		return
	}

	idx := s.order[k]
	item := s.df.items[idx]

	// Select branch first: density order makes it the more promising one.
	if count < s.df.maxItems && budget+item.cost <= s.df.capacity {
		nextQual := qual
		if item.qualifies {
			nextQual++
		}
		s.selected[idx] = true
		s.branch(k+1, budget+item.cost, count+1, nextQual, value+item.value, pending+s.upside[idx])
		s.selected[idx] = false
	}

	s.branch(k+1, budget, count, qual, value, pending)
}

// complete finishes a full selection by choosing the optimal action subset,
// then updates the incumbent if the combined value improves on it.
func (s *discreteSearch) complete(budget, value float64) {
	uplift, actions := s.bestActions(s.df.capacity - budget)
	total := value + uplift
	if s.best.found && total <= s.best.value {
		return
	}

	actionCost := 0.0
	for j, taken := range actions {
		if taken {
			actionCost += s.df.items[s.df.actionOwner[j]].actions[actionSlot(s.df, j)].cost
		}
	}

	s.best = discreteResult{
		selected: append([]bool(nil), s.selected...),
		actions:  actions,
		value:    total,
		budget:   budget + actionCost,
		found:    true,
	}
}

// bestActions finds the maximum-uplift action subset for the current
// selection within the remaining budget, honoring parent-selection and
// dependency constraints. Actions are scanned in topological order so every
// dependency source is decided before its targets.
func (s *discreteSearch) bestActions(remaining float64) (float64, []bool) {
	df := s.df

	// Candidate actions: owned by a selected item.
	var candidates []int
	for _, j := range df.actionOrder {
		if s.selected[df.actionOwner[j]] {
			candidates = append(candidates, j)
		}
	}
	taken := make([]bool, len(df.actionIDs))
	if len(candidates) == 0 {
		return 0, taken
	}

	// sourcesOf[j] lists dependency sources that must be taken before j.
	sourcesOf := make(map[int][]int)
	for _, d := range df.deps {
		sourcesOf[d.target] = append(sourcesOf[d.target], d.source)
	}

	// Optimistic suffix bound over candidate uplifts.
	suffix := make([]float64, len(candidates)+1)
	for k := len(candidates) - 1; k >= 0; k-- {
		j := candidates[k]
		uplift := df.items[df.actionOwner[j]].actions[actionSlot(df, j)].uplift
		if uplift < 0 {
			uplift = 0
		}
		suffix[k] = suffix[k+1] + uplift
	}

	bestUplift := 0.0
	bestSet := make([]bool, len(df.actionIDs))
	current := make([]bool, len(df.actionIDs))

	var walk func(k int, budget, uplift float64)
	walk = func(k int, budget, uplift float64) {
		if uplift+suffix[k] <= bestUplift {
			return
		}
		if k == len(candidates) {
			if uplift > bestUplift {
				bestUplift = uplift
				copy(bestSet, current)
			}
			return
		}

		j := candidates[k]
		action := df.items[df.actionOwner[j]].actions[actionSlot(df, j)]

		depsMet := true
		for _, src := range sourcesOf[j] {
			if !current[src] {
				depsMet = false
				break
			}
		}
		if depsMet && budget+action.cost <= remaining {
			current[j] = true
			walk(k+1, budget+action.cost, uplift+action.uplift)
			current[j] = false
		}
		walk(k+1, budget, uplift)
	}
	walk(0, 0, 0)

	copy(taken, bestSet)
	return bestUplift, taken
}

// actionSlot maps a flat action index to its position within the owning
// item's action slice.
func actionSlot(df *discreteFormulation, flat int) int {
	owner := df.actionOwner[flat]
	offset := 0
	for i := 0; i < owner; i++ {
		offset += len(df.items[i].actions)
	}
	return flat - offset
}
