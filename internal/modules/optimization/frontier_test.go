package optimization

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

func TestFrontierGenerateSweepsTargets(t *testing.T) {
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	solver := NewSolver(zerolog.Nop())
	fg := NewFrontierGenerator(solver, 2, zerolog.Nop())

	points, err := fg.Generate(f, 8, DefaultSolverOptions())

	require.NoError(t, err)
	require.Len(t, points, 8)

	feasible := 0
	for _, p := range points {
		if p.Feasible {
			feasible++
			// Achieved value never falls materially short of the target.
			assert.GreaterOrEqual(t, p.ExpectedValue, p.TargetValue-targetTolerance(p.TargetValue))
		}
	}
	assert.Greater(t, feasible, 0)

	// Feasible prefix is sorted by ascending risk.
	for i := 1; i < feasible; i++ {
		assert.GreaterOrEqual(t, points[i].Risk, points[i-1].Risk)
	}
	// Any failed points trail the feasible ones.
	for i := feasible; i < len(points); i++ {
		assert.False(t, points[i].Feasible)
	}
}

func TestFrontierGenerateCoversFullTargetRange(t *testing.T) {
	// Every sweep target lies within the reachable expected-value range, so
	// every point must come back feasible and meet its target.
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	fg := NewFrontierGenerator(NewSolver(zerolog.Nop()), 4, zerolog.Nop())
	points, err := fg.Generate(f, 20, DefaultSolverOptions())

	require.NoError(t, err)
	require.Len(t, points, 20)
	for _, p := range points {
		assert.True(t, p.Feasible)
		assert.GreaterOrEqual(t, p.ExpectedValue, p.TargetValue-targetTolerance(p.TargetValue))
	}
}

func TestFrontierGenerateDefaultsPointCount(t *testing.T) {
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	fg := NewFrontierGenerator(NewSolver(zerolog.Nop()), 4, zerolog.Nop())

	points, err := fg.Generate(f, 0, DefaultSolverOptions())

	require.NoError(t, err)
	assert.Len(t, points, DefaultFrontierPoints)
}

func TestFrontierGenerateRejectsDiscreteFormulation(t *testing.T) {
	items := []domain.Item{{ID: "a", ExpectedValue: 10, Risk: 1, Cost: 5}}
	cfg := domain.Configuration{Mode: domain.ModeDiscrete, MaxItems: 1, Capacity: 10}
	problem := buildProblem(t, items, nil, cfg)
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	fg := NewFrontierGenerator(NewSolver(zerolog.Nop()), 4, zerolog.Nop())

	_, err = fg.Generate(f, 5, DefaultSolverOptions())

	assert.Error(t, err)
}

func TestFrontierGenerateLeavesFormulationUntouched(t *testing.T) {
	items := testItems()
	problem := buildProblem(t, items, diagCovariance(items), continuousConfig())
	f, err := NewBuilder(zerolog.Nop()).Build(problem)
	require.NoError(t, err)

	fg := NewFrontierGenerator(NewSolver(zerolog.Nop()), 4, zerolog.Nop())
	_, err = fg.Generate(f, 4, DefaultSolverOptions())

	require.NoError(t, err)
	assert.Nil(t, f.continuous.targetValue)
}
