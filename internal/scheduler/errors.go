package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDomain matches an *EmptyDomainError with errors.Is.
var ErrEmptyDomain = errors.New("empty candidate domain")

// ErrInfeasible is returned when every component has candidates but no
// combination of them satisfies the non-overlap constraint.
var ErrInfeasible = errors.New("no consistent assignment exists")

// ErrConflict matches a *ConflictError with errors.Is.
var ErrConflict = errors.New("schedule conflict")

// ErrSearchLimit is returned when the solver exhausts its node budget before
// finding a solution or proving there is none.
var ErrSearchLimit = errors.New("search node limit reached")

// InputError reports malformed or missing product data. It is raised before
// any candidates are built.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	msg := "invalid input"
	if e.Field != "" {
		msg += " " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InputError) Unwrap() error { return e.Err }

// EmptyDomainError lists the components, in creation order, that have no
// candidate at all.
type EmptyDomainError struct {
	Components []string
}

func (e *EmptyDomainError) Error() string {
	return fmt.Sprintf("no compatible online printer can finish component(s) %s before the due date",
		strings.Join(e.Components, ", "))
}

func (e *EmptyDomainError) Is(target error) bool { return target == ErrEmptyDomain }

// ConflictError means materialisation lost a race for a printer slot. No
// entries were written, so the whole request can be retried.
type ConflictError struct {
	PrinterID string
	EntryID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("printer %s slot already taken by entry %s", e.PrinterID, e.EntryID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Retryable is always true for conflicts.
func (e *ConflictError) Retryable() bool { return true }

// IsRetryable reports whether err is safe to retry by re-running the whole
// scheduling request.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
