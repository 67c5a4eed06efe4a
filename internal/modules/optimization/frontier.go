package optimization

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/allocator/internal/domain"
)

// DefaultFrontierPoints is the sweep resolution used when a caller does not
// specify one.
const DefaultFrontierPoints = 30

// FrontierGenerator computes the efficient frontier by re-solving the
// continuous formulation across a sweep of target expected-value levels.
// Every sweep point is a fully independent solve, so points are distributed
// across a bounded pool of worker goroutines.
type FrontierGenerator struct {
	solver     *Solver
	numWorkers int
	log        zerolog.Logger
}

// NewFrontierGenerator creates a frontier generator backed by the given
// solver adapter.
func NewFrontierGenerator(solver *Solver, numWorkers int, log zerolog.Logger) *FrontierGenerator {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &FrontierGenerator{
		solver:     solver,
		numWorkers: numWorkers,
		log:        log.With().Str("component", "frontier").Logger(),
	}
}

// Generate sweeps monotonically increasing target expected-value levels
// between the lowest and highest single-item level, solving a
// minimum-variance problem at each. Failures at individual target levels
// are recorded on their points, never fatal to the sweep. Points are sorted
// by risk after collection.
func (fg *FrontierGenerator) Generate(f *Formulation, points int, opts SolverOptions) ([]domain.FrontierPoint, error) {
	if f == nil || f.mode != domain.ModeContinuous {
		return nil, fmt.Errorf("frontier sweep requires a continuous formulation")
	}
	if points <= 1 {
		points = DefaultFrontierPoints
	}

	cf := f.continuous
	targets := make([]float64, points)
	floats.Span(targets, floats.Min(cf.mu)*cf.capacity, floats.Max(cf.mu)*cf.capacity)

	jobs := make(chan int, points)
	results := make([]domain.FrontierPoint, points)

	workers := fg.numWorkers
	if points < workers {
		workers = points
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = fg.solvePoint(f, targets[idx], opts)
			}
		}()
	}
	for idx := range targets {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	feasible := 0
	for _, p := range results {
		if p.Feasible {
			feasible++
		}
	}

	// Feasible points ordered by risk; failed points trail, ordered by
	// their target level.
	sort.SliceStable(results, func(a, b int) bool {
		pa, pb := results[a], results[b]
		if pa.Feasible != pb.Feasible {
			return pa.Feasible
		}
		if pa.Feasible {
			return pa.Risk < pb.Risk
		}
		return pa.TargetValue < pb.TargetValue
	})

	fg.log.Info().
		Int("points", points).
		Int("feasible", feasible).
		Msg("Frontier sweep finished")
	return results, nil
}

// solvePoint runs one independent minimum-variance solve at a target level.
func (fg *FrontierGenerator) solvePoint(f *Formulation, target float64, opts SolverOptions) domain.FrontierPoint {
	point := domain.FrontierPoint{TargetValue: target}

	sol, err := fg.solver.Solve(f.WithTargetValue(target), opts)
	if err != nil {
		fg.log.Warn().Err(err).Float64("target", target).Msg("Frontier point errored")
		point.Status = domain.StatusNumericalError
		return point
	}

	point.Status = sol.SolverStatus
	point.Feasible = sol.Feasible
	if !sol.Feasible {
		return point
	}

	cf := f.continuous
	w := make([]float64, len(cf.ids))
	for i, id := range cf.ids {
		w[i] = sol.Weights[id]
	}
	point.ExpectedValue = floats.Dot(cf.mu, w)
	point.Risk = sol.PortfolioRisk
	return point
}
