package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Domain error taxonomy. State-machine preconditions fail with a specific
// kind, never a generic error; handlers map kinds to HTTP status codes.
var (
	// ErrNotFound: the referenced work item, lot or operator does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWorkUnavailable: a status precondition failed. The item is already
	// claimed, already completed, or in the wrong state for the transition.
	ErrWorkUnavailable = errors.New("work unavailable")

	// ErrDependencyUnsatisfied: the item's dependencies are not all completed.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")

	// ErrCycleDetected: the dependency graph would contain a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrPersistence: underlying store failure. Always surfaced, never
	// silently retried into a different outcome.
	ErrPersistence = errors.New("persistence failure")
)

// MachineMismatchError carries both the required machine type and the
// operator's configured set so the mismatch can be diagnosed, not guessed.
type MachineMismatchError struct {
	Required         string
	OperatorID       string
	OperatorMachines []string
}

func (e *MachineMismatchError) Error() string {
	return fmt.Sprintf("machine type mismatch: operator %s has [%s], item requires %q",
		e.OperatorID, strings.Join(e.OperatorMachines, ", "), e.Required)
}

func IsMachineMismatch(err error) bool {
	var me *MachineMismatchError
	return errors.As(err, &me)
}
