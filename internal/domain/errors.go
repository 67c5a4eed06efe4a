package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports bad input shape or values. It never reaches the
// solver: validation failures are terminal.
type ValidationError struct {
	Field   string   // offending field ("cost", "covariance", "max_items", ...)
	ItemIDs []string // items involved, when applicable
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.ItemIDs) > 0 {
		return fmt.Sprintf("validation failed on %s (items %s): %s",
			e.Field, strings.Join(e.ItemIDs, ", "), e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field with optional item ids.
func NewValidationError(field, reason string, itemIDs ...string) *ValidationError {
	return &ValidationError{Field: field, ItemIDs: itemIDs, Reason: reason}
}

// InfeasibleError reports a well-formed problem with no feasible point,
// together with the constraint suspected of binding.
type InfeasibleError struct {
	Constraint string // "capacity", "cardinality", "eligibility", "target_value"
	Detail     string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("problem infeasible (binding constraint: %s): %s", e.Constraint, e.Detail)
}

// TimeoutError reports a solve that hit its deadline without producing any
// feasible incumbent. A timeout with an incumbent is not an error: the
// approximate solution is returned tagged TIMEOUT instead.
type TimeoutError struct {
	Detail string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver timeout: %s", e.Detail)
}

// NumericalError reports out-of-tolerance solver output. This is treated as
// a defect, not a user-correctable condition, and is surfaced distinctly
// from infeasibility.
type NumericalError struct {
	Detail string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("numerical error: %s", e.Detail)
}
