// Package domain contains the pure domain types of the allocation engine.
// Nothing in this package depends on infrastructure.
package domain

import "time"

// Mode selects the problem shape the engine formulates.
type Mode string

const (
	// ModeContinuous allocates fractional weights under a capacity budget
	// (mean-variance allocation).
	ModeContinuous Mode = "continuous"
	// ModeDiscrete makes binary accept/reject decisions with optional
	// dependent sub-actions.
	ModeDiscrete Mode = "discrete"
)

// SolverStatus is the normalized outcome of a solve, independent of the
// underlying numerical method.
type SolverStatus string

const (
	StatusOptimal        SolverStatus = "OPTIMAL"
	StatusInfeasible     SolverStatus = "INFEASIBLE"
	StatusUnbounded      SolverStatus = "UNBOUNDED"
	StatusTimeout        SolverStatus = "TIMEOUT"
	StatusNumericalError SolverStatus = "NUMERICAL_ERROR"
)

// Action is an optional sub-action attached to an item in discrete mode.
// An action can only run when its parent item is selected.
type Action struct {
	ID     string  `json:"id"`
	Uplift float64 `json:"uplift"` // additional expected value if taken
	Cost   float64 `json:"cost"`   // additional resource cost if taken
}

// Item is a candidate opportunity considered for allocation.
type Item struct {
	ID            string          `json:"id"`
	ExpectedValue float64         `json:"expected_value"`
	Risk          float64         `json:"risk"` // variance proxy, >= 0
	Cost          float64         `json:"cost"` // per-unit (continuous) or fixed (discrete), > 0
	Eligibility   map[string]bool `json:"eligibility,omitempty"`
	Actions       []Action        `json:"actions,omitempty"` // discrete mode only
}

// Qualifies reports whether the item carries the given eligibility flag.
func (it Item) Qualifies(flag string) bool {
	if flag == "" {
		return false
	}
	return it.Eligibility[flag]
}

// DependencyEdge declares that TargetID may only be taken when SourceID is
// taken. Edges reference action IDs and must form a DAG.
type DependencyEdge struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// Configuration holds the engine-wide limits for one optimization request.
// Configurations are immutable once a request starts.
type Configuration struct {
	Mode           Mode             `json:"mode"`
	MaxItems       int              `json:"max_items"`
	Capacity       float64          `json:"capacity"`
	RiskAversion   float64          `json:"risk_aversion"`
	MinQualifying  int              `json:"min_qualifying"`
	QualifyingFlag string           `json:"qualifying_flag,omitempty"`
	Dependencies   []DependencyEdge `json:"dependencies,omitempty"`
	// RepairCovariance opts in to nearest-PSD projection of a covariance
	// matrix that fails the positive-semidefinite check. Without it such
	// inputs are rejected.
	RepairCovariance bool `json:"repair_covariance,omitempty"`
}

// Solution is the engine's output for one solve. It is never mutated after
// creation; re-optimizing produces a new Solution.
type Solution struct {
	RequestID string `json:"request_id"`

	// Weights holds the continuous allocation per item id (0 for items
	// excluded by the cardinality pre-filter).
	Weights map[string]float64 `json:"weights,omitempty"`

	// Selected and SelectedActions hold the discrete decisions.
	Selected        map[string]bool     `json:"selected,omitempty"`
	SelectedActions map[string][]string `json:"selected_actions,omitempty"`

	ObjectiveValue float64      `json:"objective_value"`
	PortfolioRisk  float64      `json:"portfolio_risk"`
	Feasible       bool         `json:"feasible"`
	SolverStatus   SolverStatus `json:"solver_status"`

	// BindingConstraint names the constraint suspected of causing an
	// INFEASIBLE outcome ("capacity", "cardinality", "eligibility",
	// "target_value"). Empty otherwise.
	BindingConstraint string `json:"binding_constraint,omitempty"`

	SolvedAt time.Time `json:"solved_at"`
}

// RankedItem is one row of the analyzer's ranking.
type RankedItem struct {
	ID               string   `json:"id"`
	Weight           float64  `json:"weight"`
	ExpectedValue    float64  `json:"expected_value"`
	RiskContribution float64  `json:"risk_contribution"`
	Selected         bool     `json:"selected"`
	Actions          []string `json:"actions,omitempty"`
}

// CorrelationPair reports two items whose estimated co-movement is high.
type CorrelationPair struct {
	ID1         string  `json:"id1"`
	ID2         string  `json:"id2"`
	Correlation float64 `json:"correlation"`
}

// FrontierPoint is one solved point of the efficient-frontier sweep.
type FrontierPoint struct {
	TargetValue   float64      `json:"target_value"`
	ExpectedValue float64      `json:"expected_value"`
	Risk          float64      `json:"risk"`
	Status        SolverStatus `json:"status"`
	Feasible      bool         `json:"feasible"`
}

// DiscreteSummary reports the headline numbers of a discrete solve.
type DiscreteSummary struct {
	ItemsConsidered int     `json:"items_considered"`
	ItemsSelected   int     `json:"items_selected"`
	ActionsSelected int     `json:"actions_selected"`
	BudgetUsed      float64 `json:"budget_used"`
	Capacity        float64 `json:"capacity"`
}

// PortfolioReport is the analyzer's output consumed by the presentation
// layer.
type PortfolioReport struct {
	RequestID         string             `json:"request_id"`
	SolverStatus      SolverStatus       `json:"solver_status"`
	ExpectedValue     float64            `json:"expected_value"`
	Variance          float64            `json:"variance"`
	Risk              float64            `json:"risk"`
	SharpeRatio       float64            `json:"sharpe_ratio"`
	RiskContributions map[string]float64 `json:"risk_contributions,omitempty"`
	Ranking           []RankedItem       `json:"ranking"`
	HighCorrelations  []CorrelationPair  `json:"high_correlations,omitempty"`
	Frontier          []FrontierPoint    `json:"frontier,omitempty"`
	Discrete          *DiscreteSummary   `json:"discrete,omitempty"`
	GeneratedAt       time.Time          `json:"generated_at"`
}
