// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"errors"
	"fmt"
)

const (
	// StateCreated is a Base whose Start has not been called.
	StateCreated State = iota
	// StateStarting is a Base binding its transport.
	StateStarting
	// StateRunning is a Base whose transport accepts work.
	StateRunning
	// StateStopping is a Base draining its transport.
	StateStopping
	// StateStopped is terminal: the transport exited after Stop.
	StateStopped
	// StateFailed is terminal: binding or serving failed.
	StateFailed
)

// ErrInvalidState is returned when a State value is not one of the defined lifecycle states.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is the lifecycle state of a transport.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}
)

var stateNames = [...]string{"created", "starting", "running", "stopping", "stopped", "failed"}

// String returns the lowercase name of the state.
func (s State) String() string {
	if s.Validate() != nil {
		return "unknown"
	}
	return stateNames[s]
}

// Validate returns nil if the State is one of the defined lifecycle states.
func (s State) Validate() error {
	if s < StateCreated || s > StateFailed {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether the state is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid server state %d", e.Value)
}

// Unwrap returns ErrInvalidState for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
