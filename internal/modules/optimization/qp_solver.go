package optimization

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/allocator/internal/domain"
)

// Penalty weight for the equality/inequality constraints in the continuous
// solve. Constraint residue left by the penalty method is removed by the
// final projection and rescaling step.
const qpPenaltyWeight = 1000.0

// targetTolerance returns the acceptable shortfall of achieved expected
// value below a frontier target, scaled to the target's magnitude.
func targetTolerance(target float64) float64 {
	return math.Max(1e-6, 1e-3*math.Abs(target))
}

// solveContinuous solves the mean-variance formulation:
//
//	minimize  w'Σw − λ·μ'w          (or w'Σw s.t. μ'w ≥ target)
//	s.t.      Σw_i = capacity, 0 ≤ w_i ≤ 1
//
// via a penalty method with projected bounds, BFGS first and NelderMead as
// fallback. The returned solution carries normalized status and weights in
// formulation order; the adapter maps them back to item ids.
func solveContinuous(cf *continuousFormulation, opts SolverOptions, log zerolog.Logger) ([]float64, *domain.Solution) {
	n := len(cf.ids)

	// Weights are bounded by 1 per item, so more capacity than active
	// items can never be fully allocated.
	if cf.capacity > float64(n) {
		return nil, &domain.Solution{
			Feasible:          false,
			SolverStatus:      domain.StatusInfeasible,
			BindingConstraint: "capacity",
			SolvedAt:          time.Now(),
		}
	}

	// Target reachability is decided analytically against the
	// bound-respecting maximum-value allocation, never against solver
	// output: a stalled solve must not masquerade as infeasibility.
	var maxW []float64
	var maxRet float64
	if cf.targetValue != nil {
		maxW = maxExpectedAllocation(cf.mu, cf.capacity)
		maxRet = floats.Dot(cf.mu, maxW)
		if *cf.targetValue > maxRet+targetTolerance(*cf.targetValue) {
			return nil, &domain.Solution{
				Feasible:          false,
				SolverStatus:      domain.StatusInfeasible,
				BindingConstraint: "target_value",
				SolvedAt:          time.Now(),
			}
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToUnitBounds(x)
			variance := quadraticForm(cf.sigma.At, w)
			ret := floats.Dot(cf.mu, w)
			sum := floats.Sum(w)

			var obj float64
			if cf.targetValue != nil {
				obj = variance
				if shortfall := *cf.targetValue - ret; shortfall > 0 {
					obj += qpPenaltyWeight * shortfall * shortfall
				}
			} else {
				obj = variance - cf.lambda*ret
			}
			obj += qpPenaltyWeight * (sum - cf.capacity) * (sum - cf.capacity)
			return obj
		},
		Grad: func(grad, x []float64) {
			w := projectToUnitBounds(x)
			sum := floats.Sum(w)
			ret := floats.Dot(cf.mu, w)

			for i := 0; i < n; i++ {
				// The objective is evaluated at the projected point, so
				// the gradient follows the chain rule through the clamp:
				// flat in any coordinate sitting outside its bound.
				if x[i] < 0 || x[i] > 1 {
					grad[i] = 0
					continue
				}
				var sigmaRow float64
				for j := 0; j < n; j++ {
					sigmaRow += cf.sigma.At(i, j) * w[j]
				}
				grad[i] = 2 * sigmaRow
				if cf.targetValue != nil {
					if shortfall := *cf.targetValue - ret; shortfall > 0 {
						grad[i] -= 2 * qpPenaltyWeight * shortfall * cf.mu[i]
					}
				} else {
					grad[i] -= cf.lambda * cf.mu[i]
				}
				grad[i] += 2 * qpPenaltyWeight * (sum - cf.capacity)
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Runtime:         opts.Timeout,
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = cf.capacity / float64(n)
	}
	if cf.targetValue != nil {
		// Warm start on the constraint: blend the uniform start toward
		// the maximum-value allocation until the target already holds.
		blendToTarget(initial, maxW, cf.mu, *cf.targetValue)
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			log.Error().Err(err).Msg("Continuous solve failed in both methods")
			return nil, &domain.Solution{
				Feasible:     false,
				SolverStatus: domain.StatusNumericalError,
				SolvedAt:     time.Now(),
			}
		}
	}

	status := normalizeContinuousStatus(result.Status)
	if status == domain.StatusNumericalError || status == domain.StatusUnbounded {
		log.Warn().Str("raw_status", result.Status.String()).Msg("Continuous solve did not converge")
		return nil, &domain.Solution{
			Feasible:     false,
			SolverStatus: status,
			SolvedAt:     time.Now(),
		}
	}

	// Project to bounds and rescale so the capacity equality holds exactly,
	// then clamp floating-point residue to zero and rescale once more.
	weights := projectToUnitBounds(result.X)
	rescale(weights, cf.capacity)
	clampSmallWeights(weights)
	rescale(weights, cf.capacity)

	ret := floats.Dot(cf.mu, weights)
	if cf.targetValue != nil && ret < *cf.targetValue-targetTolerance(*cf.targetValue) {
		// The target was proven reachable above, so a residual shortfall
		// is solver slack: close it by blending toward the maximum-value
		// allocation. The blend preserves the capacity equality and the
		// unit bounds.
		blendToTarget(weights, maxW, cf.mu, *cf.targetValue)
		ret = floats.Dot(cf.mu, weights)
	}
	variance := quadraticForm(cf.sigma.At, weights)

	objective := variance - cf.lambda*ret
	if cf.targetValue != nil {
		objective = variance
	}

	return weights, &domain.Solution{
		ObjectiveValue: objective,
		PortfolioRisk:  math.Sqrt(math.Max(variance, 0)),
		Feasible:       true,
		SolverStatus:   status,
		SolvedAt:       time.Now(),
	}
}

// normalizeContinuousStatus maps gonum optimizer statuses onto the engine's
// status taxonomy. Iteration and runtime limits both surface as TIMEOUT:
// either way the incumbent is approximate, not proven optimal.
func normalizeContinuousStatus(status optimize.Status) domain.SolverStatus {
	switch status {
	case optimize.Success,
		optimize.FunctionThreshold,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return domain.StatusOptimal
	case optimize.RuntimeLimit,
		optimize.IterationLimit,
		optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit:
		return domain.StatusTimeout
	case optimize.FunctionNegativeInfinity:
		return domain.StatusUnbounded
	default:
		return domain.StatusNumericalError
	}
}

// projectToUnitBounds clamps every coordinate to [0, 1].
func projectToUnitBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i, v := range x {
		proj[i] = math.Max(0, math.Min(1, v))
	}
	return proj
}

// rescale scales weights in place so they sum to total without pushing any
// coordinate past 1: scaling up saturates the largest coordinates and
// redistributes the remainder onto the rest.
func rescale(weights []float64, total float64) {
	sum := floats.Sum(weights)
	if sum <= 0 {
		return
	}
	if total <= sum {
		floats.Scale(total/sum, weights)
		return
	}

	saturated := make([]bool, len(weights))
	remaining := total
	for iter := 0; iter < len(weights); iter++ {
		free := 0.0
		for i, w := range weights {
			if !saturated[i] {
				free += w
			}
		}
		if free <= 0 {
			return
		}
		scale := remaining / free

		overflow := false
		for i, w := range weights {
			if saturated[i] {
				continue
			}
			if w*scale >= 1 {
				weights[i] = 1
				saturated[i] = true
				remaining -= 1
				overflow = true
			}
		}
		if !overflow {
			for i, w := range weights {
				if !saturated[i] {
					weights[i] = w * scale
				}
			}
			return
		}
	}
}

// maxExpectedAllocation fills unit-bounded weights onto the highest expected
// values first until the capacity is spent. Requires capacity <= len(mu).
func maxExpectedAllocation(mu []float64, capacity float64) []float64 {
	order := make([]int, len(mu))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return mu[order[a]] > mu[order[b]]
	})

	w := make([]float64, len(mu))
	remaining := capacity
	for _, idx := range order {
		if remaining <= 0 {
			break
		}
		take := math.Min(1, remaining)
		w[idx] = take
		remaining -= take
	}
	return w
}

// blendToTarget moves w toward wMax along the straight line between them
// until mu'w reaches target. Both endpoints satisfy the capacity equality
// and the unit bounds, so every blend does too.
func blendToTarget(w, wMax, mu []float64, target float64) {
	ret := floats.Dot(mu, w)
	if ret >= target {
		return
	}
	maxRet := floats.Dot(mu, wMax)
	if maxRet <= ret {
		return
	}
	t := (target - ret) / (maxRet - ret)
	if t > 1 {
		t = 1
	}
	for i := range w {
		w[i] = (1-t)*w[i] + t*wMax[i]
	}
}

// clampSmallWeights zeroes allocation noise below the reporting tolerance.
func clampSmallWeights(weights []float64) {
	for i, w := range weights {
		if w < WeightTolerance {
			weights[i] = 0
		}
	}
}

// quadraticForm computes w'Σw for a matrix accessed through at(i, j).
func quadraticForm(at func(i, j int) float64, w []float64) float64 {
	var total float64
	for i := range w {
		for j := range w {
			total += w[i] * at(i, j) * w[j]
		}
	}
	return total
}
