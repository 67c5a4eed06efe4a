package optimization

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

func buildProblem(t *testing.T, items []domain.Item, cov [][]float64, cfg domain.Configuration) *ValidatedProblem {
	t.Helper()
	problem, err := NewValidator(zerolog.Nop()).Validate(items, cov, cfg)
	require.NoError(t, err)
	return problem
}

func TestBuildContinuousKeepsAllItemsWithinLimit(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())

	f, err := b.Build(problem)

	require.NoError(t, err)
	assert.Equal(t, domain.ModeContinuous, f.Mode())
	assert.Equal(t, []string{"a", "b", "c"}, f.continuous.ids)
	assert.Empty(t, f.continuous.excluded)
}

func TestBuildContinuousPreFiltersByRiskAdjustedScore(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	items := testItems() // scores: a=5, b=8, c=10
	cfg := continuousConfig()
	cfg.MaxItems = 2
	problem := buildProblem(t, items, diagCovariance(items), cfg)

	f, err := b.Build(problem)

	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, f.continuous.ids)
	assert.Equal(t, []string{"a"}, f.continuous.excluded)
	assert.Equal(t, []float64{100}, f.continuous.excludedMu)
	// Covariance submatrix follows the surviving items.
	assert.Equal(t, 2, f.continuous.sigma.SymmetricDim())
	assert.Equal(t, 10.0, f.continuous.sigma.At(0, 0))
	assert.Equal(t, 5.0, f.continuous.sigma.At(1, 1))
}

func TestCardinalityPreFilterTieBreaks(t *testing.T) {
	// Same score, higher expected value wins; then ascending id.
	items := []domain.Item{
		{ID: "z", ExpectedValue: 10, Risk: 2, Cost: 1},
		{ID: "m", ExpectedValue: 20, Risk: 4, Cost: 1},
		{ID: "a", ExpectedValue: 10, Risk: 2, Cost: 1},
	}

	active, excluded := cardinalityPreFilter(items, 2)

	require.Len(t, active, 2)
	require.Len(t, excluded, 1)
	assert.Equal(t, "m", items[active[0]].ID)
	assert.Equal(t, "a", items[active[1]].ID)
	assert.Equal(t, "z", items[excluded[0]].ID)
}

func TestCardinalityPreFilterZeroRiskRanksFirst(t *testing.T) {
	items := []domain.Item{
		{ID: "risky", ExpectedValue: 1000, Risk: 1, Cost: 1},
		{ID: "safe", ExpectedValue: 1, Risk: 0, Cost: 1},
	}

	active, _ := cardinalityPreFilter(items, 1)

	require.Len(t, active, 1)
	assert.Equal(t, "safe", items[active[0]].ID)
}

func TestWithTargetValueDoesNotMutateReceiver(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())
	f, err := b.Build(problem)
	require.NoError(t, err)

	clone := f.WithTargetValue(42)

	assert.Nil(t, f.continuous.targetValue)
	require.NotNil(t, clone.continuous.targetValue)
	assert.Equal(t, 42.0, *clone.continuous.targetValue)
}

func TestBuildDiscreteFlattensActionsAndDependencies(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	items := []domain.Item{
		{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 2, Actions: []domain.Action{
			{ID: "a1", Uplift: 3, Cost: 1},
		}},
		{ID: "b", ExpectedValue: 8, Risk: 1, Cost: 2, Actions: []domain.Action{
			{ID: "b1", Uplift: 2, Cost: 1},
			{ID: "b2", Uplift: 1, Cost: 1},
		}},
	}
	cfg := domain.Configuration{
		Mode:     domain.ModeDiscrete,
		MaxItems: 2,
		Capacity: 10,
		Dependencies: []domain.DependencyEdge{
			{SourceID: "b1", TargetID: "b2"},
		},
	}
	problem := buildProblem(t, items, nil, cfg)

	f, err := b.Build(problem)

	require.NoError(t, err)
	df := f.discrete
	assert.Equal(t, []string{"a1", "b1", "b2"}, df.actionIDs)
	assert.Equal(t, []int{0, 1, 1}, df.actionOwner)
	require.Len(t, df.deps, 1)
	assert.Equal(t, 1, df.deps[0].source)
	assert.Equal(t, 2, df.deps[0].target)

	// Topological order places b1 before b2.
	posOf := make(map[int]int, len(df.actionOrder))
	for pos, idx := range df.actionOrder {
		posOf[idx] = pos
	}
	assert.Less(t, posOf[1], posOf[2])
}

func TestTopologicalActionOrderChain(t *testing.T) {
	deps := []actionDep{
		{source: 2, target: 1},
		{source: 1, target: 0},
	}

	order := topologicalActionOrder(3, deps)

	assert.Equal(t, []int{2, 1, 0}, order)
}
