// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// DefaultMaxFileSize bounds documents read from disk (1MB).
const DefaultMaxFileSize = 1 << 20

// ErrFileTooLarge is returned when a document exceeds the size limit.
var ErrFileTooLarge = errors.New("file too large")

type (
	options struct {
		maxFileSize int
		concrete    bool
	}

	// Option configures Unify.
	Option func(*options)
)

// WithMaxFileSize sets the maximum accepted document size.
func WithMaxFileSize(size int) Option {
	return func(o *options) { o.maxFileSize = size }
}

// WithConcrete requires every value to be concrete after unification.
// Off by default, for documents whose fields are all optional.
func WithConcrete(concrete bool) Option {
	return func(o *options) { o.concrete = concrete }
}

// CheckFileSize returns an error wrapping ErrFileTooLarge when data is
// larger than limit.
func CheckFileSize(data []byte, limit int, filename string) error {
	if len(data) > limit {
		return fmt.Errorf("%s: %w (%d bytes, limit %d)", filename, ErrFileTooLarge, len(data), limit)
	}
	return nil
}

// Unify compiles schema, looks up definition in it and unifies data with it.
// Errors in data are reported through FormatError; an error in the schema
// itself is an internal fault.
func Unify(schema, definition string, data []byte, filename string, opts ...Option) (cue.Value, error) {
	o := options{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&o)
	}
	if err := CheckFileSize(data, o.maxFileSize, filename); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(schema)
	if schemaValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}
	def := schemaValue.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("internal error: schema has no %s definition", definition)
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return cue.Value{}, FormatError(userValue.Err(), filename)
	}

	unified := def.Unify(userValue)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return cue.Value{}, FormatError(err, filename)
	}
	return unified, nil
}

// FormatError rewrites a CUE error as "<file>: <path>: <message>" lines, with
// list indices in brackets (env_allowlist[0]).
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", filename, err)
	}
	errs := cueerrors.Errors(err)

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := FieldPath(e.Path()); p != "" {
			msg = p + ": " + msg
		}
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("line %d: %s", pos.Line(), msg)
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filename, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filename, strings.Join(lines, "\n  "))
}

// FieldPath joins CUE path selectors, writing numeric ones as list indices.
func FieldPath(path []string) string {
	var sb strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
