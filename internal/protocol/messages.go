// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidRequest is the sentinel error wrapped by RequestError.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMissingExecutionID is returned when a message has no executionId.
	ErrMissingExecutionID = errors.New("executionId is required")
)

type (
	// FunctionUnit is the source of a function and the name of its handler.
	FunctionUnit struct {
		Code        string `json:"code"`
		HandlerName string `json:"handlerName"`
	}

	// BeforeFunction is a function run before the main function.
	BeforeFunction struct {
		Code        string          `json:"code"`
		HandlerName string          `json:"handlerName"`
		Arg         json.RawMessage `json:"arg,omitempty"`
	}

	// Request is an incoming message: an execution request or a kill.
	Request struct {
		Type             MessageType      `json:"type,omitempty"`
		ExecutionID      string           `json:"executionId"`
		Kind             FunctionKind     `json:"kind,omitempty"`
		MainFunction     *FunctionUnit    `json:"mainFunction,omitempty"`
		BeforeFunctions  []BeforeFunction `json:"beforeFunctions,omitempty"`
		Args             json.RawMessage  `json:"args,omitempty"`
		TimeoutMs        int64            `json:"timeoutMs,omitempty"`
		SensitiveStrings []string         `json:"sensitiveStrings,omitempty"`
	}

	// Output carries one console line of an execution.
	Output struct {
		Type        MessageType `json:"type"`
		ExecutionID string      `json:"executionId"`
		Stream      string      `json:"stream"`
		Level       string      `json:"level"`
		Line        string      `json:"line"`
		Timestamp   time.Time   `json:"timestamp"`
	}

	// Result is the terminal message of an execution.
	Result struct {
		Type        MessageType  `json:"type"`
		ExecutionID string       `json:"executionId"`
		Outcome     Outcome      `json:"outcome"`
		Kind        FunctionKind `json:"kind"`
		Payload     any          `json:"payload,omitempty"`
		Message     string       `json:"message,omitempty"`
		ErrorKind   ErrorKind    `json:"errorKind,omitempty"`
		DurationMs  int64        `json:"durationMs"`
	}

	// Error rejects a message without producing a result.
	Error struct {
		Type        MessageType `json:"type"`
		ExecutionID string      `json:"executionId,omitempty"`
		Message     string      `json:"message"`
	}

	// RequestError describes why a request is not usable.
	// It wraps ErrInvalidRequest and the cause for errors.Is() compatibility.
	RequestError struct {
		Field string
		Err   error
	}
)

// Error implements the error interface for RequestError.
func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
}

// Unwrap returns ErrInvalidRequest and the cause.
func (e *RequestError) Unwrap() []error { return []error{ErrInvalidRequest, e.Err} }

// IsKill reports whether the request is a kill message.
func (r *Request) IsKill() bool { return r.Type == TypeKill }

// Validate checks an incoming message. Kill messages only need an id.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ExecutionID) == "" {
		return &RequestError{Field: "executionId", Err: ErrMissingExecutionID}
	}
	switch r.Type {
	case "", TypeExecute:
	case TypeKill:
		return nil
	default:
		return &RequestError{Field: "type", Err: &InvalidMessageTypeError{Value: r.Type}}
	}

	if err := r.Kind.Validate(); err != nil {
		return &RequestError{Field: "kind", Err: err}
	}
	if r.MainFunction == nil {
		return &RequestError{Field: "mainFunction", Err: errors.New("is required")}
	}
	if err := validateUnit(r.MainFunction.Code, r.MainFunction.HandlerName); err != nil {
		return &RequestError{Field: "mainFunction", Err: err}
	}
	for i, b := range r.BeforeFunctions {
		if err := validateUnit(b.Code, b.HandlerName); err != nil {
			return &RequestError{Field: fmt.Sprintf("beforeFunctions[%d]", i), Err: err}
		}
		if len(b.Arg) > 0 && !json.Valid(b.Arg) {
			return &RequestError{Field: fmt.Sprintf("beforeFunctions[%d].arg", i), Err: errors.New("is not valid JSON")}
		}
	}
	if len(r.Args) > 0 && !json.Valid(r.Args) {
		return &RequestError{Field: "args", Err: errors.New("is not valid JSON")}
	}
	return nil
}

// maxTimeoutMs is the largest TimeoutMs that converts without overflow.
const maxTimeoutMs = math.MaxInt64 / int64(time.Millisecond)

// Timeout converts TimeoutMs; zero or negative means the host default.
// Values past the Duration range saturate.
func (r *Request) Timeout() time.Duration {
	switch {
	case r.TimeoutMs <= 0:
		return 0
	case r.TimeoutMs > maxTimeoutMs:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

func validateUnit(code, handler string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("code is required")
	}
	if strings.TrimSpace(handler) == "" {
		return errors.New("handlerName is required")
	}
	return nil
}

// NewOutput builds an output message.
func NewOutput(executionID, stream, level, line string, ts time.Time) *Output {
	return &Output{
		Type:        TypeOutput,
		ExecutionID: executionID,
		Stream:      stream,
		Level:       level,
		Line:        line,
		Timestamp:   ts.UTC(),
	}
}

// NewError builds a transport-level rejection.
func NewError(executionID, message string) *Error {
	return &Error{Type: TypeError, ExecutionID: executionID, Message: message}
}

// NewSuccess builds a successful result.
func NewSuccess(executionID string, kind FunctionKind, payload any, d time.Duration) *Result {
	return &Result{
		Type:        TypeResult,
		ExecutionID: executionID,
		Outcome:     OutcomeSuccess,
		Kind:        kind,
		Payload:     payload,
		DurationMs:  d.Milliseconds(),
	}
}

// NewFailure builds a failed result.
func NewFailure(executionID string, kind FunctionKind, errKind ErrorKind, message string, d time.Duration) *Result {
	return &Result{
		Type:        TypeResult,
		ExecutionID: executionID,
		Outcome:     OutcomeFailure,
		Kind:        kind,
		Message:     message,
		ErrorKind:   errKind,
		DurationMs:  d.Milliseconds(),
	}
}

// NewTimeout builds a timed out result.
func NewTimeout(executionID string, kind FunctionKind, d time.Duration) *Result {
	return &Result{
		Type:        TypeResult,
		ExecutionID: executionID,
		Outcome:     OutcomeTimeout,
		Kind:        kind,
		DurationMs:  d.Milliseconds(),
	}
}
