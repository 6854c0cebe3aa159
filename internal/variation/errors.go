package variation

import (
	"errors"
	"fmt"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

// Error classes. Concrete errors wrap one of these so callers can use errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrGeneration        = errors.New("generation failed")
	ErrBudget            = errors.New("insufficient budget")
	ErrRateLimited       = errors.New("rate limited")
)

// Conflict reasons
const (
	ReasonNotReady         = "not_ready"
	ReasonStaleBase        = "stale_base"
	ReasonAlreadyCommitted = "already_committed"
	ReasonTerminalState    = "terminal_state"
)

// InvalidTransitionError reports an edge missing from the transition table.
type InvalidTransitionError struct {
	From models.Status
	To   models.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictError is an expected, recoverable state or version conflict.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict: " + e.Reason
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict builds a ConflictError.
func NewConflict(reason, format string, args ...any) error {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// BadRequest wraps ErrBadRequest with a message.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrBadRequest)
}

// ConflictReason extracts the reason of a ConflictError, or "".
func ConflictReason(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
