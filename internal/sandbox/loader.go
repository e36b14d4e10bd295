// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// handlerNamePattern accepts plain script identifiers.
var handlerNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// handler is a resolved entry point of one code unit.
type handler struct {
	stage string
	name  string
	fn    goja.Callable
	arg   json.RawMessage
}

// wrapUnit evaluates code in its own function scope and yields the handler.
// The prefix stays on the first line so line numbers in errors match.
func wrapUnit(code, name string) string {
	return "(function() {" + code + "\n;return typeof " + name + ` === "function" ? ` + name + " : undefined;\n})()"
}

// load compiles and evaluates every unit before any handler runs, so a
// request with a bad unit fails without side effects.
func (r *runtime) load(job Job) ([]handler, handler, error) {
	r.setState(StateLoading)

	before := make([]handler, 0, len(job.Before))
	for i, unit := range job.Before {
		h, err := r.loadUnit(fmt.Sprintf("before[%d]", i), unit)
		if err != nil {
			return nil, handler{}, err
		}
		before = append(before, h)
	}

	main, err := r.loadUnit("main", CodeUnit{Code: job.Main.Code, Handler: job.Main.Handler, Arg: job.Args})
	if err != nil {
		return nil, handler{}, err
	}
	return before, main, nil
}

func (r *runtime) loadUnit(stage string, unit CodeUnit) (handler, error) {
	if !handlerNamePattern.MatchString(unit.Handler) {
		return handler{}, &ExecutionError{Kind: ErrLoad, Stage: stage, Message: fmt.Sprintf("invalid handler name %q", unit.Handler)}
	}

	prog, err := r.programs.Compile(stage+".js", wrapUnit(unit.Code, unit.Handler))
	if err != nil {
		return handler{}, &ExecutionError{Kind: ErrLoad, Stage: stage, Message: err.Error()}
	}

	v, err := r.vm.RunProgram(prog)
	if err != nil {
		return handler{}, &ExecutionError{Kind: ErrLoad, Stage: stage, Message: r.errorMessage(err)}
	}

	fn, ok := goja.AssertFunction(v)
	if !ok {
		return handler{}, &ExecutionError{
			Kind:    ErrLoad,
			Stage:   stage,
			Message: fmt.Sprintf("handler %q is not defined as a function", unit.Handler),
		}
	}
	return handler{stage: stage, name: unit.Handler, fn: fn, arg: unit.Arg}, nil
}
