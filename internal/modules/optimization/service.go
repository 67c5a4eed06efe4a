package optimization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// Request is one optimization request: immutable inputs constructed once,
// consumed by a single Run/Frontier call.
type Request struct {
	Items      []domain.Item
	Covariance [][]float64
	Config     domain.Configuration

	// Options overrides the default solver options when non-nil.
	Options *SolverOptions

	// IncludeFrontier attaches an efficient-frontier sweep to the report
	// (continuous mode only).
	IncludeFrontier bool
	FrontierPoints  int
}

// ServiceConfig carries the engine-wide defaults applied when a request
// does not specify its own.
type ServiceConfig struct {
	SolverTimeout   time.Duration
	FrontierPoints  int
	FrontierWorkers int
}

// OptimizerService orchestrates one optimization request end to end:
// validate, formulate, solve, analyze. The service holds no per-request
// state; concurrent requests with distinct inputs are safe.
type OptimizerService struct {
	validator *Validator
	builder   *Builder
	solver    *Solver
	analyzer  *Analyzer
	frontier  *FrontierGenerator
	log       zerolog.Logger

	defaultTimeout        time.Duration
	defaultFrontierPoints int
}

// NewOptimizerService wires the engine components together.
func NewOptimizerService(cfg ServiceConfig, log zerolog.Logger) *OptimizerService {
	if cfg.SolverTimeout <= 0 {
		cfg.SolverTimeout = DefaultSolverOptions().Timeout
	}
	if cfg.FrontierPoints <= 1 {
		cfg.FrontierPoints = DefaultFrontierPoints
	}

	solver := NewSolver(log)
	return &OptimizerService{
		validator:             NewValidator(log),
		builder:               NewBuilder(log),
		solver:                solver,
		analyzer:              NewAnalyzer(log),
		frontier:              NewFrontierGenerator(solver, cfg.FrontierWorkers, log),
		log:                   log.With().Str("component", "optimizer_service").Logger(),
		defaultTimeout:        cfg.SolverTimeout,
		defaultFrontierPoints: cfg.FrontierPoints,
	}
}

// Run executes the full pipeline and returns the portfolio report.
//
// Error mapping follows the engine taxonomy: *domain.ValidationError for bad
// inputs, *domain.InfeasibleError with the suspected binding constraint,
// *domain.TimeoutError when the deadline passed with no incumbent, and
// *domain.NumericalError for out-of-tolerance solver output. A timeout that
// produced an incumbent yields a normal report tagged TIMEOUT.
func (s *OptimizerService) Run(ctx context.Context, req Request) (*domain.PortfolioReport, error) {
	requestID := uuid.New().String()
	started := time.Now()

	problem, err := s.validator.Validate(req.Items, req.Covariance, req.Config)
	if err != nil {
		return nil, err
	}

	formulation, err := s.builder.Build(problem)
	if err != nil {
		return nil, err
	}

	opts := s.solverOptions(ctx, req)
	sol, err := s.solver.Solve(formulation, opts)
	if err != nil {
		return nil, err
	}
	sol.RequestID = requestID

	if !sol.Feasible {
		return nil, solutionError(sol)
	}

	report, err := s.analyzer.Analyze(sol, formulation)
	if err != nil {
		return nil, err
	}

	if req.IncludeFrontier && req.Config.Mode == domain.ModeContinuous {
		points, err := s.frontier.Generate(formulation, s.frontierPoints(req), opts)
		if err != nil {
			return nil, err
		}
		report.Frontier = points
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("mode", string(req.Config.Mode)).
		Str("status", string(report.SolverStatus)).
		Dur("elapsed", time.Since(started)).
		Msg("Optimization request finished")
	return report, nil
}

// MinimumVariance solves the global minimum-risk allocation, ignoring the
// configured risk-aversion trade-off (no expected-value term).
func (s *OptimizerService) MinimumVariance(ctx context.Context, req Request) (*domain.PortfolioReport, error) {
	req.Config.Mode = domain.ModeContinuous
	req.Config.RiskAversion = 0
	req.IncludeFrontier = false
	return s.Run(ctx, req)
}

// Frontier validates and formulates the request, then returns only the
// efficient-frontier sweep.
func (s *OptimizerService) Frontier(ctx context.Context, req Request) ([]domain.FrontierPoint, error) {
	if req.Config.Mode != domain.ModeContinuous {
		return nil, domain.NewValidationError("mode", "frontier sweep requires continuous mode")
	}

	problem, err := s.validator.Validate(req.Items, req.Covariance, req.Config)
	if err != nil {
		return nil, err
	}
	formulation, err := s.builder.Build(problem)
	if err != nil {
		return nil, err
	}
	return s.frontier.Generate(formulation, s.frontierPoints(req), s.solverOptions(ctx, req))
}

// frontierPoints resolves the sweep resolution: the request's when set,
// otherwise the configured service default.
func (s *OptimizerService) frontierPoints(req Request) int {
	if req.FrontierPoints > 1 {
		return req.FrontierPoints
	}
	return s.defaultFrontierPoints
}

// solverOptions merges the request's options with the context deadline so
// the solve never outlives the caller.
func (s *OptimizerService) solverOptions(ctx context.Context, req Request) SolverOptions {
	opts := DefaultSolverOptions()
	opts.Timeout = s.defaultTimeout
	if req.Options != nil {
		if req.Options.Timeout > 0 {
			opts.Timeout = req.Options.Timeout
		}
		if req.Options.MaxIterations > 0 {
			opts.MaxIterations = req.Options.MaxIterations
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < opts.Timeout {
			opts.Timeout = remaining
		}
	}
	return opts
}

// solutionError maps an infeasible solution onto the error taxonomy.
func solutionError(sol *domain.Solution) error {
	switch sol.SolverStatus {
	case domain.StatusInfeasible:
		return &domain.InfeasibleError{
			Constraint: sol.BindingConstraint,
			Detail:     "no feasible allocation under the configured limits",
		}
	case domain.StatusTimeout:
		return &domain.TimeoutError{Detail: "deadline reached before any feasible incumbent"}
	case domain.StatusNumericalError:
		return &domain.NumericalError{Detail: "solver returned out-of-tolerance values"}
	case domain.StatusUnbounded:
		return &domain.NumericalError{Detail: "objective unbounded below"}
	default:
		return fmt.Errorf("solver returned infeasible solution with status %s", sol.SolverStatus)
	}
}
