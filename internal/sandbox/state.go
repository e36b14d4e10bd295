// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"errors"
	"fmt"
)

const (
	// StateIdle is the state before loading starts.
	StateIdle State = iota
	// StateLoading compiles code units and resolves handlers.
	StateLoading
	// StateRunningBefore runs one of the before functions.
	StateRunningBefore
	// StateRunningMain runs the main function.
	StateRunningMain
	// StateCompleted is terminal: the main function returned.
	StateCompleted
	// StateFailed is terminal: loading or a stage failed, or the execution was killed.
	StateFailed
	// StateTimedOut is terminal: the budget ran out.
	StateTimedOut
)

// ErrInvalidState is returned when a State value is not one of the defined states.
var ErrInvalidState = errors.New("invalid execution state")

type (
	// State is the progress of one execution.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRunningBefore:
		return "runningBefore"
	case StateRunningMain:
		return "runningMain"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// Validate returns nil if the State is one of the defined states.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateLoading, StateRunningBefore, StateRunningMain,
		StateCompleted, StateFailed, StateTimedOut:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}

// IsTerminal returns true for Completed, Failed and TimedOut.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid execution state %d", e.Value)
}

// Unwrap returns ErrInvalidState for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
