// SPDX-License-Identifier: MPL-2.0

package console

import (
	"errors"
	"fmt"
)

const (
	// StreamStdout carries log, info and debug output.
	StreamStdout Stream = "stdout"
	// StreamStderr carries warn and error output.
	StreamStderr Stream = "stderr"

	// LevelDebug is used by console.debug.
	LevelDebug Level = "debug"
	// LevelInfo is used by console.log and console.info.
	LevelInfo Level = "info"
	// LevelWarn is used by console.warn.
	LevelWarn Level = "warn"
	// LevelError is used by console.error.
	LevelError Level = "error"
)

var (
	// ErrInvalidStream is returned when a Stream value is not recognized.
	ErrInvalidStream = errors.New("invalid stream")
	// ErrInvalidLevel is returned when a Level value is not recognized.
	ErrInvalidLevel = errors.New("invalid level")
)

type (
	// Stream identifies the output stream a line belongs to.
	Stream string

	// Level is the severity of a captured line.
	Level string

	// InvalidStreamError is returned when a Stream value is not recognized.
	// It wraps ErrInvalidStream for errors.Is() compatibility.
	InvalidStreamError struct {
		Value Stream
	}

	// InvalidLevelError is returned when a Level value is not recognized.
	// It wraps ErrInvalidLevel for errors.Is() compatibility.
	InvalidLevelError struct {
		Value Level
	}
)

// String returns the string representation of the Stream.
func (s Stream) String() string { return string(s) }

// Validate returns nil if the Stream is stdout or stderr.
func (s Stream) Validate() error {
	switch s {
	case StreamStdout, StreamStderr:
		return nil
	default:
		return &InvalidStreamError{Value: s}
	}
}

// String returns the string representation of the Level.
func (l Level) String() string { return string(l) }

// Validate returns nil if the Level is one of the defined severities.
func (l Level) Validate() error {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return nil
	default:
		return &InvalidLevelError{Value: l}
	}
}

// Stream returns the stream a console method with this level writes to.
func (l Level) Stream() Stream {
	if l == LevelWarn || l == LevelError {
		return StreamStderr
	}
	return StreamStdout
}

// Error implements the error interface for InvalidStreamError.
func (e *InvalidStreamError) Error() string {
	return fmt.Sprintf("invalid stream %q (valid: stdout, stderr)", e.Value)
}

// Unwrap returns ErrInvalidStream for errors.Is() compatibility.
func (e *InvalidStreamError) Unwrap() error { return ErrInvalidStream }

// Error implements the error interface for InvalidLevelError.
func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("invalid level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLevel for errors.Is() compatibility.
func (e *InvalidLevelError) Unwrap() error { return ErrInvalidLevel }
