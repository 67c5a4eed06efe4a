// Package handlers provides HTTP handlers for the optimization engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/optimization"
)

// Handler handles optimization HTTP requests.
type Handler struct {
	service *optimization.OptimizerService
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler.
func NewHandler(service *optimization.OptimizerService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// OptimizeRequest is the JSON body of POST /optimizer/run and
// POST /optimizer/frontier.
type OptimizeRequest struct {
	Items      []domain.Item        `json:"items"`
	Covariance [][]float64          `json:"covariance,omitempty"`
	Config     domain.Configuration `json:"config"`

	TimeoutMS       int  `json:"timeout_ms,omitempty"`
	IncludeFrontier bool `json:"include_frontier,omitempty"`
	FrontierPoints  int  `json:"frontier_points,omitempty"`
}

const maxRequestItems = 5000

// HandleRun handles POST /optimizer/run.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decode(w, r)
	if !ok {
		return
	}

	startTime := time.Now()
	report, err := h.service.Run(r.Context(), h.toServiceRequest(request))
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}

	h.log.Info().
		Int("items", len(request.Items)).
		Dur("elapsed", time.Since(startTime)).
		Str("status", string(report.SolverStatus)).
		Msg("Optimization run completed")

	h.writeJSON(w, http.StatusOK, report)
}

// HandleMinVariance handles POST /optimizer/min-variance.
func (h *Handler) HandleMinVariance(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decode(w, r)
	if !ok {
		return
	}

	report, err := h.service.MinimumVariance(r.Context(), h.toServiceRequest(request))
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HandleFrontier handles POST /optimizer/frontier.
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	request, ok := h.decode(w, r)
	if !ok {
		return
	}

	startTime := time.Now()
	points, err := h.service.Frontier(r.Context(), h.toServiceRequest(request))
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}

	h.log.Info().
		Int("points", len(points)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Frontier sweep completed")

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"frontier":     points,
		"generated_at": time.Now().Format(time.RFC3339),
	})
}

// HandleDefaults handles GET /optimizer/defaults.
func (h *Handler) HandleDefaults(w http.ResponseWriter, r *http.Request) {
	opts := optimization.DefaultSolverOptions()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timeout_ms":      opts.Timeout.Milliseconds(),
		"max_iterations":  opts.MaxIterations,
		"frontier_points": optimization.DefaultFrontierPoints,
		"capacity":        1.0,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (OptimizeRequest, bool) {
	var request OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return request, false
	}
	if len(request.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "No items provided")
		return request, false
	}
	if len(request.Items) > maxRequestItems {
		h.writeError(w, http.StatusBadRequest, "Too many items")
		return request, false
	}
	return request, true
}

func (h *Handler) toServiceRequest(request OptimizeRequest) optimization.Request {
	req := optimization.Request{
		Items:           request.Items,
		Covariance:      request.Covariance,
		Config:          request.Config,
		IncludeFrontier: request.IncludeFrontier,
		FrontierPoints:  request.FrontierPoints,
	}
	if request.TimeoutMS > 0 {
		req.Options = &optimization.SolverOptions{
			Timeout: time.Duration(request.TimeoutMS) * time.Millisecond,
		}
	}
	return req
}

// writeTaxonomyError maps engine errors onto HTTP statuses: validation and
// infeasibility are client-correctable, timeouts and numerical errors are
// not.
func (h *Handler) writeTaxonomyError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var infeasibleErr *domain.InfeasibleError
	var timeoutErr *domain.TimeoutError
	var numericalErr *domain.NumericalError

	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Error(),
			"kind":  "validation",
			"field": validationErr.Field,
		})
	case errors.As(err, &infeasibleErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":              infeasibleErr.Error(),
			"kind":               "infeasible",
			"binding_constraint": infeasibleErr.Constraint,
		})
	case errors.As(err, &timeoutErr):
		h.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error": timeoutErr.Error(),
			"kind":  "timeout",
		})
	case errors.As(err, &numericalErr):
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": numericalErr.Error(),
			"kind":  "numerical",
		})
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
