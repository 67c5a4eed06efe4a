package optimization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/allocator/internal/domain"
)

// HighCorrelationThreshold marks item pairs whose estimated co-movement is
// strong enough to flag in reports.
const HighCorrelationThreshold = 0.80

// Analyzer derives portfolio-level metrics from a feasible solution and the
// formulation it solved.
type Analyzer struct {
	log zerolog.Logger
}

// NewAnalyzer creates a new post-solve analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{
		log: log.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze computes expected value, variance, per-item marginal risk
// contributions, and the deterministic ranking for a feasible solution.
func (a *Analyzer) Analyze(sol *domain.Solution, f *Formulation) (*domain.PortfolioReport, error) {
	if sol == nil || f == nil {
		return nil, fmt.Errorf("nil solution or formulation")
	}
	if !sol.Feasible {
		return nil, fmt.Errorf("cannot analyze infeasible solution (status %s)", sol.SolverStatus)
	}

	switch f.mode {
	case domain.ModeContinuous:
		return a.analyzeContinuous(sol, f.continuous), nil
	case domain.ModeDiscrete:
		return a.analyzeDiscrete(sol, f.discrete), nil
	default:
		return nil, fmt.Errorf("formulation has unknown mode %q", f.mode)
	}
}

func (a *Analyzer) analyzeContinuous(sol *domain.Solution, cf *continuousFormulation) *domain.PortfolioReport {
	n := len(cf.ids)
	w := make([]float64, n)
	for i, id := range cf.ids {
		w[i] = sol.Weights[id]
	}

	expectedValue := floats.Dot(cf.mu, w)
	variance := quadraticForm(cf.sigma.At, w)

	// risk_contribution_i = w_i (Σw)_i / w'Σw. Contributions sum to 1
	// across non-zero weights; in the degenerate zero-variance case they
	// are all zero.
	contributions := make(map[string]float64, n)
	if variance > 0 {
		for i, id := range cf.ids {
			var sigmaW float64
			for j := 0; j < n; j++ {
				sigmaW += cf.sigma.At(i, j) * w[j]
			}
			contributions[id] = w[i] * sigmaW / variance
		}
	} else {
		for _, id := range cf.ids {
			contributions[id] = 0
		}
	}

	ranking := make([]domain.RankedItem, 0, n+len(cf.excluded))
	for i, id := range cf.ids {
		ranking = append(ranking, domain.RankedItem{
			ID:               id,
			Weight:           w[i],
			ExpectedValue:    cf.mu[i],
			RiskContribution: contributions[id],
			Selected:         w[i] > 0,
		})
	}
	for i, id := range cf.excluded {
		ranking = append(ranking, domain.RankedItem{
			ID:            id,
			ExpectedValue: cf.excludedMu[i],
		})
	}
	sortRanking(ranking)

	risk := math.Sqrt(math.Max(variance, 0))

	report := &domain.PortfolioReport{
		RequestID:         sol.RequestID,
		SolverStatus:      sol.SolverStatus,
		ExpectedValue:     expectedValue,
		Variance:          variance,
		Risk:              risk,
		SharpeRatio:       sharpeRatio(expectedValue, risk),
		RiskContributions: contributions,
		Ranking:           ranking,
		HighCorrelations:  highCorrelations(cf.sigma.At, cf.ids, HighCorrelationThreshold),
		GeneratedAt:       time.Now(),
	}

	a.log.Debug().
		Float64("expected_value", expectedValue).
		Float64("variance", variance).
		Int("ranked", len(ranking)).
		Msg("Analyzed continuous solution")
	return report
}

func (a *Analyzer) analyzeDiscrete(sol *domain.Solution, df *discreteFormulation) *domain.PortfolioReport {
	var expectedValue, budget float64
	var selectedCount, actionCount int
	selectedIdx := make([]int, 0, len(df.items))

	ranking := make([]domain.RankedItem, 0, len(df.items))
	for i, item := range df.items {
		selected := sol.Selected[item.id]
		row := domain.RankedItem{
			ID:            item.id,
			ExpectedValue: item.value,
			Selected:      selected,
		}
		if selected {
			row.Weight = 1
			row.Actions = sol.SelectedActions[item.id]
			expectedValue += item.value
			budget += item.cost
			selectedCount++
			selectedIdx = append(selectedIdx, i)
			for _, actionID := range row.Actions {
				for _, action := range item.actions {
					if action.id == actionID {
						expectedValue += action.uplift
						budget += action.cost
						actionCount++
					}
				}
			}
		}
		ranking = append(ranking, row)
	}
	sortRanking(ranking)

	report := &domain.PortfolioReport{
		RequestID:     sol.RequestID,
		SolverStatus:  sol.SolverStatus,
		ExpectedValue: expectedValue,
		Ranking:       ranking,
		Discrete: &domain.DiscreteSummary{
			ItemsConsidered: len(df.items),
			ItemsSelected:   selectedCount,
			ActionsSelected: actionCount,
			BudgetUsed:      budget,
			Capacity:        df.capacity,
		},
		GeneratedAt: time.Now(),
	}

	// Variance over the selected indicator vector, only when a covariance
	// structure was supplied for the item set.
	if df.sigma != nil && len(selectedIdx) > 0 {
		var variance float64
		for _, i := range selectedIdx {
			for _, j := range selectedIdx {
				variance += df.sigma.At(i, j)
			}
		}
		report.Variance = variance
		report.Risk = math.Sqrt(math.Max(variance, 0))
		report.SharpeRatio = sharpeRatio(expectedValue, report.Risk)
	}

	a.log.Debug().
		Int("selected", selectedCount).
		Int("actions", actionCount).
		Float64("expected_value", expectedValue).
		Msg("Analyzed discrete solution")
	return report
}

// sortRanking orders items by descending allocation weight, ties broken by
// descending expected value, then ascending id for determinism.
func sortRanking(ranking []domain.RankedItem) {
	sort.SliceStable(ranking, func(a, b int) bool {
		if ranking[a].Weight != ranking[b].Weight {
			return ranking[a].Weight > ranking[b].Weight
		}
		if ranking[a].ExpectedValue != ranking[b].ExpectedValue {
			return ranking[a].ExpectedValue > ranking[b].ExpectedValue
		}
		return ranking[a].ID < ranking[b].ID
	})
}

// sharpeRatio is expected value per unit of risk, zero when risk is zero.
func sharpeRatio(expectedValue, risk float64) float64 {
	if risk <= 0 {
		return 0
	}
	return expectedValue / risk
}

// highCorrelations extracts item pairs whose correlation implied by the
// covariance matrix meets the threshold.
func highCorrelations(at func(i, j int) float64, ids []string, threshold float64) []domain.CorrelationPair {
	var pairs []domain.CorrelationPair
	for i := range ids {
		vi := at(i, i)
		if vi <= 0 {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			vj := at(j, j)
			if vj <= 0 {
				continue
			}
			corr := at(i, j) / math.Sqrt(vi*vj)
			if math.Abs(corr) >= threshold {
				pairs = append(pairs, domain.CorrelationPair{
					ID1:         ids[i],
					ID2:         ids[j],
					Correlation: corr,
				})
			}
		}
	}
	return pairs
}
