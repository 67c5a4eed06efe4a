package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// Validator checks item records, covariance matrices, and configurations
// for completeness and numeric sanity before anything reaches a solver.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a new input validator.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "validator").Logger(),
	}
}

// Validate runs all input checks in order and returns a ValidatedProblem,
// or a *domain.ValidationError naming the offending field and item ids.
// It never proceeds to formulation with invalid data.
func (v *Validator) Validate(
	items []domain.Item,
	covariance [][]float64,
	config domain.Configuration,
) (*ValidatedProblem, error) {
	n := len(items)
	if n == 0 {
		return nil, domain.NewValidationError("items", "no items provided")
	}

	if err := v.checkItems(items); err != nil {
		return nil, err
	}

	sigma, repaired, err := v.checkCovariance(items, covariance, config)
	if err != nil {
		return nil, err
	}

	if err := v.checkConfig(items, config); err != nil {
		return nil, err
	}

	if err := v.checkDependencies(items, config); err != nil {
		return nil, err
	}

	v.log.Debug().
		Int("num_items", n).
		Str("mode", string(config.Mode)).
		Bool("covariance_repaired", repaired).
		Msg("Input validated")

	return &ValidatedProblem{
		Items:              items,
		Sigma:              sigma,
		Config:             config,
		CovarianceRepaired: repaired,
	}, nil
}

// checkItems verifies per-item invariants: unique ids, finite values,
// strictly positive cost, non-negative risk.
func (v *Validator) checkItems(items []domain.Item) error {
	seen := make(map[string]bool, len(items))
	var badCost, badRisk, badValue []string

	for _, item := range items {
		if item.ID == "" {
			return domain.NewValidationError("id", "item with empty id")
		}
		if seen[item.ID] {
			return domain.NewValidationError("id", "duplicate item id", item.ID)
		}
		seen[item.ID] = true

		// Zero-cost items break per-unit risk/cost ratios and must be
		// rejected here rather than surfacing as solver artifacts.
		if !(item.Cost > 0) || math.IsInf(item.Cost, 0) || math.IsNaN(item.Cost) {
			badCost = append(badCost, item.ID)
		}
		if item.Risk < 0 || math.IsInf(item.Risk, 0) || math.IsNaN(item.Risk) {
			badRisk = append(badRisk, item.ID)
		}
		if math.IsInf(item.ExpectedValue, 0) || math.IsNaN(item.ExpectedValue) {
			badValue = append(badValue, item.ID)
		}
	}

	if len(badCost) > 0 {
		return domain.NewValidationError("cost", "cost must be strictly positive and finite", badCost...)
	}
	if len(badRisk) > 0 {
		return domain.NewValidationError("risk", "risk must be non-negative and finite", badRisk...)
	}
	if len(badValue) > 0 {
		return domain.NewValidationError("expected_value", "expected value must be finite", badValue...)
	}
	return nil
}

// checkCovariance verifies dimensions, symmetry, diagonal consistency with
// item risk, and positive semi-definiteness. A non-PSD matrix is rejected
// unless the configuration explicitly opts in to nearest-PSD projection.
func (v *Validator) checkCovariance(
	items []domain.Item,
	covariance [][]float64,
	config domain.Configuration,
) (*mat.SymDense, bool, error) {
	n := len(items)

	if covariance == nil {
		// Discrete selection can run without a covariance structure;
		// the continuous formulation cannot.
		if config.Mode == domain.ModeContinuous {
			return nil, false, domain.NewValidationError("covariance", "covariance matrix required for continuous allocation")
		}
		return nil, false, nil
	}

	if len(covariance) != n {
		return nil, false, domain.NewValidationError("covariance",
			"matrix dimension does not match item count")
	}
	for i := range covariance {
		if len(covariance[i]) != n {
			return nil, false, domain.NewValidationError("covariance",
				"matrix is not square")
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(covariance[i][j]-covariance[j][i]) > SymmetryTolerance {
				return nil, false, domain.NewValidationError("covariance",
					"matrix is not symmetric", items[i].ID, items[j].ID)
			}
		}
		if math.Abs(covariance[i][i]-items[i].Risk) > SymmetryTolerance {
			return nil, false, domain.NewValidationError("covariance",
				"diagonal entry does not match item risk", items[i].ID)
		}
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Average the off-diagonal pair so sub-tolerance asymmetry
			// cannot leak into the quadratic form.
			sigma.SetSym(i, j, 0.5*(covariance[i][j]+covariance[j][i]))
		}
	}

	minEig, err := smallestEigenvalue(sigma)
	if err != nil {
		return nil, false, domain.NewValidationError("covariance", "eigendecomposition failed")
	}
	if minEig >= -PSDTolerance {
		return sigma, false, nil
	}

	if !config.RepairCovariance {
		return nil, false, domain.NewValidationError("covariance",
			"matrix is not positive semi-definite (enable repair_covariance to project)")
	}

	projected, err := nearestPSD(sigma)
	if err != nil {
		return nil, false, domain.NewValidationError("covariance", "nearest-PSD projection failed")
	}

	v.log.Warn().
		Float64("min_eigenvalue", minEig).
		Msg("Projected non-PSD covariance matrix to nearest PSD")

	return projected, true, nil
}

// checkConfig verifies the configuration limits against the item set.
func (v *Validator) checkConfig(items []domain.Item, config domain.Configuration) error {
	n := len(items)

	switch config.Mode {
	case domain.ModeContinuous, domain.ModeDiscrete:
	default:
		return domain.NewValidationError("mode", "mode must be continuous or discrete")
	}
	if config.MaxItems <= 0 || config.MaxItems > n {
		return domain.NewValidationError("max_items", "max_items must be positive and at most the item count")
	}
	if !(config.Capacity > 0) || math.IsInf(config.Capacity, 0) || math.IsNaN(config.Capacity) {
		return domain.NewValidationError("capacity", "capacity must be strictly positive and finite")
	}
	if config.RiskAversion < 0 || math.IsNaN(config.RiskAversion) {
		return domain.NewValidationError("risk_aversion", "risk_aversion must be non-negative")
	}
	if config.MinQualifying < 0 || config.MinQualifying > n {
		return domain.NewValidationError("min_qualifying", "min_qualifying must be between 0 and the item count")
	}
	if config.MinQualifying > 0 && config.QualifyingFlag == "" {
		return domain.NewValidationError("qualifying_flag", "qualifying_flag required when min_qualifying is set")
	}
	return nil
}

// checkDependencies verifies that action ids are unique, dependency edges
// reference known actions, and the dependency relation forms a DAG.
func (v *Validator) checkDependencies(items []domain.Item, config domain.Configuration) error {
	owner := make(map[string]string) // action id -> item id
	for _, item := range items {
		for _, action := range item.Actions {
			if action.ID == "" {
				return domain.NewValidationError("actions", "action with empty id", item.ID)
			}
			if _, dup := owner[action.ID]; dup {
				return domain.NewValidationError("actions", "duplicate action id", item.ID)
			}
			if action.Cost < 0 || math.IsNaN(action.Cost) || math.IsNaN(action.Uplift) {
				return domain.NewValidationError("actions", "action cost must be non-negative and values finite", item.ID)
			}
			owner[action.ID] = item.ID
		}
	}

	if len(config.Dependencies) == 0 {
		return nil
	}

	adjacency := make(map[string][]string, len(config.Dependencies))
	indegree := make(map[string]int, len(owner))
	for _, edge := range config.Dependencies {
		if _, ok := owner[edge.SourceID]; !ok {
			return domain.NewValidationError("action_dependencies", "unknown source action "+edge.SourceID)
		}
		if _, ok := owner[edge.TargetID]; !ok {
			return domain.NewValidationError("action_dependencies", "unknown target action "+edge.TargetID)
		}
		if edge.SourceID == edge.TargetID {
			return domain.NewValidationError("action_dependencies", "self-dependency on action "+edge.SourceID)
		}
		adjacency[edge.SourceID] = append(adjacency[edge.SourceID], edge.TargetID)
		indegree[edge.TargetID]++
	}

	// Kahn's algorithm: if the peel-off does not consume every action,
	// the relation contains a cycle.
	var queue []string
	for id := range owner {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacency[node] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited < len(owner) {
		return domain.NewValidationError("action_dependencies", "dependency relation contains a cycle")
	}

	return nil
}

// smallestEigenvalue returns the minimum eigenvalue of a symmetric matrix.
func smallestEigenvalue(sigma *mat.SymDense) (float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, false); !ok {
		return 0, &domain.NumericalError{Detail: "eigendecomposition did not converge"}
	}
	values := eig.Values(nil)
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min, nil
}

// nearestPSD projects a symmetric matrix onto the positive semi-definite
// cone by clipping negative eigenvalues to zero and reassembling.
func nearestPSD(sigma *mat.SymDense) (*mat.SymDense, error) {
	n := sigma.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, true); !ok {
		return nil, &domain.NumericalError{Detail: "eigendecomposition did not converge"}
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}

	// Reassemble Q·diag(clipped)·Qᵀ and re-symmetrize against floating
	// point drift.
	lambda := mat.NewDiagDense(n, values)
	var qr, reconstructed mat.Dense
	qr.Mul(&vectors, lambda)
	reconstructed.Mul(&qr, vectors.T())

	projected := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			projected.SetSym(i, j, 0.5*(reconstructed.At(i, j)+reconstructed.At(j, i)))
		}
	}
	return projected, nil
}
