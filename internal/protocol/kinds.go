// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"errors"
	"fmt"
)

const (
	// KindQualification checks whether a component is in a good state.
	KindQualification FunctionKind = "qualification"
	// KindAction runs an operation against a resource.
	KindAction FunctionKind = "action"
	// KindCodeGeneration renders code from component properties.
	KindCodeGeneration FunctionKind = "codeGeneration"
	// KindResolver computes an attribute value.
	KindResolver FunctionKind = "resolver"
	// KindWorkflow returns a workflow description.
	KindWorkflow FunctionKind = "workflow"
	// KindSchemaBuilder returns an asset definition.
	KindSchemaBuilder FunctionKind = "schemaBuilder"
	// KindManagement manages a set of components.
	KindManagement FunctionKind = "management"
	// KindValidation validates a single value.
	KindValidation FunctionKind = "validation"

	// OutcomeSuccess means the main function returned a valid value.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means loading, a stage or the return value failed.
	OutcomeFailure Outcome = "failure"
	// OutcomeTimeout means the budget ran out.
	OutcomeTimeout Outcome = "timeout"

	// ErrorKindLoad is a bad source or an unresolved handler.
	ErrorKindLoad ErrorKind = "loadError"
	// ErrorKindUserCode is an exception thrown by a stage.
	ErrorKindUserCode ErrorKind = "userCodeException"
	// ErrorKindInvalidReturnType is a return value of the wrong shape.
	ErrorKindInvalidReturnType ErrorKind = "invalidReturnType"
	// ErrorKindKilled is an execution stopped by a kill message.
	ErrorKindKilled ErrorKind = "killedExecution"
	// ErrorKindSandbox is an internal fault.
	ErrorKindSandbox ErrorKind = "sandboxError"
	// ErrorKindInvalidRequest is a request that decoded but is not usable.
	ErrorKindInvalidRequest ErrorKind = "invalidRequest"

	// TypeExecute marks an execution request. It is the default for
	// requests without a type.
	TypeExecute MessageType = "execute"
	// TypeKill asks to kill an in-flight execution.
	TypeKill MessageType = "kill"
	// TypeOutput carries one console line.
	TypeOutput MessageType = "output"
	// TypeResult carries the terminal outcome of an execution.
	TypeResult MessageType = "result"
	// TypeError rejects a message at the transport level.
	TypeError MessageType = "error"
)

var (
	// ErrInvalidFunctionKind is returned when a FunctionKind value is not recognized.
	ErrInvalidFunctionKind = errors.New("invalid function kind")
	// ErrInvalidMessageType is returned when a MessageType value is not recognized.
	ErrInvalidMessageType = errors.New("invalid message type")
)

type (
	// FunctionKind selects how a return value is validated.
	FunctionKind string

	// Outcome is the terminal state reported in a result.
	Outcome string

	// ErrorKind classifies a failure.
	ErrorKind string

	// MessageType tags every message on the stream.
	MessageType string

	// InvalidFunctionKindError is returned when a FunctionKind value is not recognized.
	// It wraps ErrInvalidFunctionKind for errors.Is() compatibility.
	InvalidFunctionKindError struct {
		Value FunctionKind
	}

	// InvalidMessageTypeError is returned when an incoming MessageType is not
	// execute or kill.
	// It wraps ErrInvalidMessageType for errors.Is() compatibility.
	InvalidMessageTypeError struct {
		Value MessageType
	}
)

// FunctionKinds returns every defined kind.
func FunctionKinds() []FunctionKind {
	return []FunctionKind{
		KindQualification, KindAction, KindCodeGeneration, KindResolver,
		KindWorkflow, KindSchemaBuilder, KindManagement, KindValidation,
	}
}

// Validate returns nil if the kind is one of the defined kinds.
func (k FunctionKind) Validate() error {
	switch k {
	case KindQualification, KindAction, KindCodeGeneration, KindResolver,
		KindWorkflow, KindSchemaBuilder, KindManagement, KindValidation:
		return nil
	default:
		return &InvalidFunctionKindError{Value: k}
	}
}

// String returns the string representation of the FunctionKind.
func (k FunctionKind) String() string { return string(k) }

// Error implements the error interface for InvalidFunctionKindError.
func (e *InvalidFunctionKindError) Error() string {
	return fmt.Sprintf("invalid function kind %q", e.Value)
}

// Unwrap returns ErrInvalidFunctionKind for errors.Is() compatibility.
func (e *InvalidFunctionKindError) Unwrap() error { return ErrInvalidFunctionKind }

// Error implements the error interface for InvalidMessageTypeError.
func (e *InvalidMessageTypeError) Error() string {
	return fmt.Sprintf("invalid message type %q (valid: execute, kill)", e.Value)
}

// Unwrap returns ErrInvalidMessageType for errors.Is() compatibility.
func (e *InvalidMessageTypeError) Unwrap() error { return ErrInvalidMessageType }
