package optimization

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

func discreteConfig() domain.Configuration {
	return domain.Configuration{
		Mode:     domain.ModeDiscrete,
		MaxItems: 3,
		Capacity: 20,
	}
}

func TestDiscreteSolveSelectsBestSubset(t *testing.T) {
	// Knapsack with capacity 10 and max 2 items: {a, c} is the best pair
	// (value 15 at cost 9); {a, b} exceeds capacity.
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 6},
		{ID: "b", ExpectedValue: 9, Risk: 1, Cost: 5},
		{ID: "c", ExpectedValue: 5, Risk: 1, Cost: 3},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 2
	cfg.Capacity = 10

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.Equal(t, domain.StatusOptimal, sol.SolverStatus)
	assert.True(t, sol.Selected["a"])
	assert.False(t, sol.Selected["b"])
	assert.True(t, sol.Selected["c"])
	assert.InDelta(t, 15.0, sol.ObjectiveValue, 1e-9)
}

func TestDiscreteSolveRespectsCardinality(t *testing.T) {
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 1},
		{ID: "b", ExpectedValue: 9, Risk: 1, Cost: 1},
		{ID: "c", ExpectedValue: 8, Risk: 1, Cost: 1},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 2

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	count := 0
	for _, selected := range sol.Selected {
		if selected {
			count++
		}
	}
	assert.Equal(t, 2, count)
	assert.False(t, sol.Selected["c"])
}

func TestDiscreteSolveTakesProfitableActions(t *testing.T) {
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5, Actions: []domain.Action{
			{ID: "boost", Uplift: 4, Cost: 2},
			{ID: "drag", Uplift: -3, Cost: 1},
		}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 1

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.True(t, sol.Selected["a"])
	assert.Equal(t, []string{"boost"}, sol.SelectedActions["a"])
	assert.InDelta(t, 14.0, sol.ObjectiveValue, 1e-9)
}

func TestDiscreteSolveActionUpliftDecidesSelection(t *testing.T) {
	// "quiet" is worthless on its own but carries a free action worth 100;
	// "plain" offers 50 outright. Only one item fits the budget, and the
	// search must weigh the uplift when comparing the two.
	items := []domain.Item{
		{ID: "plain", ExpectedValue: 50, Risk: 1, Cost: 1},
		{ID: "quiet", ExpectedValue: 0, Risk: 1, Cost: 1, Actions: []domain.Action{
			{ID: "surge", Uplift: 100, Cost: 0},
		}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 2
	cfg.Capacity = 1

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.True(t, sol.Selected["quiet"])
	assert.False(t, sol.Selected["plain"])
	assert.Equal(t, []string{"surge"}, sol.SelectedActions["quiet"])
	assert.InDelta(t, 100.0, sol.ObjectiveValue, 1e-9)
}

func TestDiscreteSolveActionsRequireParentSelection(t *testing.T) {
	// "b" carries a huge uplift but selecting it is impossible under the
	// capacity, so neither it nor its action may appear.
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5},
		{ID: "b", ExpectedValue: 1, Risk: 1, Cost: 50, Actions: []domain.Action{
			{ID: "b1", Uplift: 100, Cost: 0},
		}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 2
	cfg.Capacity = 10

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.True(t, sol.Selected["a"])
	assert.False(t, sol.Selected["b"])
	assert.Empty(t, sol.SelectedActions["b"])
}

func TestDiscreteSolveHonorsActionDependencies(t *testing.T) {
	// "second" alone is worth more than "first", but it can only be taken
	// together with "first". Budget allows both.
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5, Actions: []domain.Action{
			{ID: "first", Uplift: 1, Cost: 2},
			{ID: "second", Uplift: 6, Cost: 2},
		}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 1
	cfg.Capacity = 20
	cfg.Dependencies = []domain.DependencyEdge{
		{SourceID: "first", TargetID: "second"},
	}

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.Equal(t, []string{"first", "second"}, sol.SelectedActions["a"])
	assert.InDelta(t, 17.0, sol.ObjectiveValue, 1e-9)
}

func TestDiscreteSolveDropsDependencyChainWhenBudgetTight(t *testing.T) {
	// Budget covers the item plus one action. Taking "second" would require
	// "first" too, which does not fit, so the solver takes "first" alone
	// over nothing and never "second" alone.
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5, Actions: []domain.Action{
			{ID: "first", Uplift: 1, Cost: 2},
			{ID: "second", Uplift: 6, Cost: 2},
		}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 1
	cfg.Capacity = 7
	cfg.Dependencies = []domain.DependencyEdge{
		{SourceID: "first", TargetID: "second"},
	}

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.Equal(t, []string{"first"}, sol.SelectedActions["a"])
}

func TestDiscreteSolveMinQualifyingForcesEligibleItem(t *testing.T) {
	items := []domain.Item{
		{ID: "rich", ExpectedValue: 100, Risk: 1, Cost: 5},
		{ID: "eligible", ExpectedValue: 1, Risk: 1, Cost: 5, Eligibility: map[string]bool{"preferred": true}},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 1
	cfg.Capacity = 10
	cfg.MinQualifying = 1
	cfg.QualifyingFlag = "preferred"

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.False(t, sol.Selected["rich"])
	assert.True(t, sol.Selected["eligible"])
}

func TestDiscreteSolveInfeasibilityTriage(t *testing.T) {
	base := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5, Eligibility: map[string]bool{"preferred": true}},
		{ID: "b", ExpectedValue: 8, Risk: 1, Cost: 5},
	}

	tests := []struct {
		name       string
		cfg        domain.Configuration
		constraint string
	}{
		{
			name: "not enough eligible items",
			cfg: domain.Configuration{
				Mode: domain.ModeDiscrete, MaxItems: 2, Capacity: 20,
				MinQualifying: 2, QualifyingFlag: "preferred",
			},
			constraint: "eligibility",
		},
		{
			name: "min qualifying above cardinality",
			cfg: domain.Configuration{
				Mode: domain.ModeDiscrete, MaxItems: 1, Capacity: 20,
				MinQualifying: 2, QualifyingFlag: "other",
			},
			constraint: "cardinality",
		},
		{
			name: "qualifying items do not fit capacity",
			cfg: domain.Configuration{
				Mode: domain.ModeDiscrete, MaxItems: 2, Capacity: 3,
				MinQualifying: 1, QualifyingFlag: "preferred",
			},
			constraint: "capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := base
			if tt.name == "min qualifying above cardinality" {
				// Both items qualify so the eligibility check passes first.
				items = []domain.Item{
					{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5, Eligibility: map[string]bool{"other": true}},
					{ID: "b", ExpectedValue: 8, Risk: 1, Cost: 5, Eligibility: map[string]bool{"other": true}},
				}
			}

			sol := solveItems(t, items, nil, tt.cfg)

			assert.False(t, sol.Feasible)
			assert.Equal(t, domain.StatusInfeasible, sol.SolverStatus)
			assert.Equal(t, tt.constraint, sol.BindingConstraint)
		})
	}
}

func TestDiscreteSolveEmptySelectionIsFeasibleWhenNothingFits(t *testing.T) {
	// No eligibility floor and nothing fits the budget: selecting nothing is
	// the optimum, not an infeasibility.
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 100},
	}
	cfg := discreteConfig()
	cfg.MaxItems = 1
	cfg.Capacity = 1

	sol := solveItems(t, items, nil, cfg)

	require.True(t, sol.Feasible)
	assert.False(t, sol.Selected["a"])
	assert.Zero(t, sol.ObjectiveValue)
}

func TestDiscreteSolveDeadlineReturnsIncumbent(t *testing.T) {
	// 24 items force a large search tree; an already-expired deadline must
	// still return quickly with a TIMEOUT status rather than run to
	// completion.
	var items []domain.Item
	for i := 0; i < 24; i++ {
		items = append(items, domain.Item{
			ID:            string(rune('a' + i)),
			ExpectedValue: float64(10 + i%7),
			Risk:          1,
			Cost:          float64(1 + i%5),
		})
	}
	cfg := domain.Configuration{Mode: domain.ModeDiscrete, MaxItems: 24, Capacity: 40}
	problem := buildProblem(t, items, nil, cfg)
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	opts := SolverOptions{Timeout: time.Nanosecond, MaxIterations: 2000}
	sol, err := NewSolver(zerolog.Nop()).Solve(f, opts)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, sol.SolverStatus)
}
