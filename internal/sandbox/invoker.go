// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"errors"
	"fmt"

	"github.com/funcbox/funcbox/internal/console"

	"github.com/dop251/goja"
)

// pipeline runs the before functions in order, then the main function. Each
// stage starts once the previous one settled.
type pipeline struct {
	rt     *runtime
	before []handler
	main   handler
	policy BeforeFailurePolicy
	settle func(*Outcome)
}

// invoke loads the job and starts its pipeline. It runs on the event loop;
// settle receives the outcome once the main function's result is known.
func (r *runtime) invoke(job Job, policy BeforeFailurePolicy, settle func(*Outcome)) {
	before, main, err := r.load(job)
	if err != nil {
		settle(r.fail(err))
		return
	}
	p := &pipeline{rt: r, before: before, main: main, policy: policy, settle: settle}
	p.runBefore(0)
}

func (p *pipeline) runBefore(i int) {
	if i == len(p.before) {
		p.runMain()
		return
	}

	h := p.before[i]
	p.rt.setState(StateRunningBefore)
	p.rt.call(h, func(_ goja.Value, err error) {
		if err != nil {
			if p.policy != BeforeFailureContinue {
				p.settle(p.rt.fail(err))
				return
			}
			p.rt.capture.Write(console.LevelError, fmt.Sprintf("before function %s (%s) failed: %v", h.stage, h.name, err))
		}
		p.runBefore(i + 1)
	})
}

func (p *pipeline) runMain() {
	p.rt.setState(StateRunningMain)
	p.rt.call(p.main, func(v goja.Value, err error) {
		if err != nil {
			p.settle(p.rt.fail(err))
			return
		}
		p.rt.setState(StateCompleted)
		if v == nil || goja.IsUndefined(v) {
			p.settle(&Outcome{State: StateCompleted, Undefined: true})
			return
		}
		p.settle(&Outcome{State: StateCompleted, Value: v.Export()})
	})
}

func (r *runtime) fail(err error) *Outcome {
	r.setState(StateFailed)
	return &Outcome{State: StateFailed, Err: err}
}

// call runs a handler with its JSON argument and hands the result to then.
// A returned promise is awaited on the event loop, so then may run in a
// later job.
func (r *runtime) call(h handler, then func(goja.Value, error)) {
	arg, err := r.fromJSON(h.arg)
	if err != nil {
		then(nil, &ExecutionError{Kind: ErrInternal, Stage: h.stage, Message: fmt.Sprintf("decode argument: %s", r.errorMessage(err))})
		return
	}

	v, err := h.fn(goja.Undefined(), arg)
	if err != nil {
		then(nil, &ExecutionError{Kind: ErrUserCode, Stage: h.stage, Message: r.errorMessage(err)})
		return
	}
	if v == nil {
		then(goja.Undefined(), nil)
		return
	}
	if _, ok := v.Export().(*goja.Promise); !ok {
		then(v, nil)
		return
	}
	if err := r.await(v.ToObject(r.vm), h.stage, then); err != nil {
		then(nil, &ExecutionError{Kind: ErrInternal, Stage: h.stage, Message: r.errorMessage(err)})
	}
}

// await subscribes then to the settlement of promise.
func (r *runtime) await(promise *goja.Object, stage string, then func(goja.Value, error)) error {
	method, ok := goja.AssertFunction(promise.Get("then"))
	if !ok {
		return errors.New("promise has no then method")
	}
	onFulfilled := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		then(call.Argument(0), nil)
		return goja.Undefined()
	})
	onRejected := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		then(nil, &ExecutionError{Kind: ErrUserCode, Stage: stage, Message: valueMessage(call.Argument(0))})
		return goja.Undefined()
	})
	_, err := method(promise, onFulfilled, onRejected)
	return err
}
