// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/funcbox/funcbox/internal/builder"
)

// ErrInvalidReturnType is the sentinel error wrapped by ReturnTypeError.
var ErrInvalidReturnType = errors.New("invalid return type")

// ReturnTypeError reports a return value that does not match its kind.
// It wraps ErrInvalidReturnType for errors.Is() compatibility.
type ReturnTypeError struct {
	Kind   FunctionKind
	Reason string
}

// Error implements the error interface for ReturnTypeError.
func (e *ReturnTypeError) Error() string {
	return fmt.Sprintf("%s function returned an invalid value: %s", e.Kind, e.Reason)
}

// Unwrap returns ErrInvalidReturnType for errors.Is() compatibility.
func (e *ReturnTypeError) Unwrap() error { return ErrInvalidReturnType }

// Normalize checks the value returned by a main function against the shape
// its kind requires and returns the payload to report. undefined is set when
// the function returned undefined.
func Normalize(kind FunctionKind, value any, undefined bool) (any, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	if kind == KindSchemaBuilder {
		if undefined || value == nil {
			return nil, &ReturnTypeError{Kind: kind, Reason: "expected an asset, got nothing"}
		}
		asset, err := builder.NormalizeAsset(value)
		if err != nil {
			return nil, &ReturnTypeError{Kind: kind, Reason: err.Error()}
		}
		def, err := toJSONValue(asset)
		if err != nil {
			return nil, &ReturnTypeError{Kind: kind, Reason: err.Error()}
		}
		return map[string]any{"definition": def}, nil
	}

	var doc any
	if !undefined {
		var err error
		if doc, err = toJSONValue(value); err != nil {
			return nil, &ReturnTypeError{Kind: kind, Reason: err.Error()}
		}
	}

	if kind == KindResolver {
		return map[string]any{"data": doc, "unset": undefined}, nil
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ReturnTypeError{Kind: kind, Reason: fmt.Sprintf("expected an object, got %s", describe(doc, undefined))}
	}

	switch kind {
	case KindQualification:
		return shape(kind, obj, func(s *shaper) {
			s.enum("result", true, "success", "warning", "failure", "unknown")
			s.str("message", false)
		})
	case KindAction:
		return shape(kind, obj, func(s *shaper) {
			s.enum("status", true, "ok", "warning", "error")
			s.passthrough("payload")
			s.str("message", false)
			s.str("resourceId", false)
		})
	case KindCodeGeneration:
		return shape(kind, obj, func(s *shaper) {
			s.str("format", true)
			s.str("code", true)
		})
	case KindWorkflow:
		return shape(kind, obj, func(s *shaper) {
			s.str("name", true)
			s.enum("kind", true, "conditional", "exceptional", "parallel")
			s.steps("steps")
		})
	case KindManagement:
		return shape(kind, obj, func(s *shaper) {
			s.enum("status", true, "ok", "error")
			s.str("message", false)
			s.passthrough("ops")
		})
	case KindValidation:
		return normalizeValidation(obj)
	default:
		return nil, &InvalidFunctionKindError{Value: kind}
	}
}

// normalizeValidation accepts {valid, message?} or {error}. Other fields are
// kept.
func normalizeValidation(obj map[string]any) (any, error) {
	if e, ok := obj["error"]; ok && e != nil {
		msg, ok := e.(string)
		if !ok {
			return nil, &ReturnTypeError{Kind: KindValidation, Reason: `"error" must be a string`}
		}
		out := maps.Clone(obj)
		delete(out, "error")
		out["valid"] = false
		out["message"] = msg
		return out, nil
	}
	return shape(KindValidation, obj, func(s *shaper) {
		s.boolean("valid", true)
		s.str("message", false)
	})
}

// shaper checks the recognized fields of a returned object and records the
// first violation. Fields it does not recognize are kept as returned.
type shaper struct {
	kind FunctionKind
	in   map[string]any
	out  map[string]any
	err  error
}

func shape(kind FunctionKind, in map[string]any, fields func(*shaper)) (any, error) {
	s := &shaper{kind: kind, in: in, out: maps.Clone(in)}
	fields(s)
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func (s *shaper) fail(format string, args ...any) {
	if s.err == nil {
		s.err = &ReturnTypeError{Kind: s.kind, Reason: fmt.Sprintf(format, args...)}
	}
}

// lookup returns a present, non-null field.
func (s *shaper) lookup(name string, required bool) (any, bool) {
	v, ok := s.in[name]
	if !ok || v == nil {
		if required {
			s.fail("%q is required", name)
		}
		return nil, false
	}
	return v, true
}

func (s *shaper) str(name string, required bool) {
	v, ok := s.lookup(name, required)
	if !ok {
		return
	}
	str, isStr := v.(string)
	if !isStr {
		s.fail("%q must be a string", name)
		return
	}
	s.out[name] = str
}

func (s *shaper) boolean(name string, required bool) {
	v, ok := s.lookup(name, required)
	if !ok {
		return
	}
	b, isBool := v.(bool)
	if !isBool {
		s.fail("%q must be a boolean", name)
		return
	}
	s.out[name] = b
}

func (s *shaper) enum(name string, required bool, allowed ...string) {
	v, ok := s.lookup(name, required)
	if !ok {
		return
	}
	str, isStr := v.(string)
	if !isStr || !slices.Contains(allowed, str) {
		s.fail("%q must be one of %v", name, allowed)
		return
	}
	s.out[name] = str
}

func (s *shaper) passthrough(name string) {
	if v, ok := s.lookup(name, false); ok {
		s.out[name] = v
	}
}

// steps checks workflow steps: each names exactly one of workflow, command
// or action. Any other step field is kept.
func (s *shaper) steps(name string) {
	v, ok := s.lookup(name, true)
	if !ok {
		return
	}
	list, isList := v.([]any)
	if !isList {
		s.fail("%q must be an array", name)
		return
	}
	steps := make([]any, 0, len(list))
	for i, item := range list {
		step, isObj := item.(map[string]any)
		if !isObj {
			s.fail("%s[%d] must be an object", name, i)
			return
		}
		targets := 0
		for _, target := range []string{"workflow", "command", "action"} {
			t, present := step[target]
			if !present || t == nil {
				continue
			}
			if _, isStr := t.(string); !isStr {
				s.fail("%s[%d].%s must be a string", name, i, target)
				return
			}
			targets++
		}
		if targets != 1 {
			s.fail("%s[%d] must name exactly one of workflow, command or action", name, i)
			return
		}
		steps = append(steps, maps.Clone(step))
	}
	s.out[name] = steps
}

// toJSONValue converts any exported value into plain JSON values.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func describe(v any, undefined bool) string {
	if undefined {
		return "undefined"
	}
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
