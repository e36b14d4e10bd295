// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/funcbox/funcbox/internal/builder"
	"github.com/funcbox/funcbox/internal/console"
	"github.com/funcbox/funcbox/internal/procexec"
	"github.com/funcbox/funcbox/internal/storage"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// lockDownScript disables every route to the Function constructor.
const lockDownScript = `(function() {
	var blocked = function() { throw new TypeError("Function constructor is disabled"); };
	var protos = [
		Function.prototype,
		Object.getPrototypeOf(async function() {}),
		Object.getPrototypeOf(function*() {})
	];
	for (var i = 0; i < protos.length; i++) {
		try {
			Object.defineProperty(protos[i], "constructor", {value: blocked, writable: false, configurable: false});
		} catch (e) {}
	}
	blocked.prototype = Function.prototype;
	globalThis.Function = blocked;
})();`

type (
	runtimeConfig struct {
		maxCallStackSize int
		store            *storage.Storage
		capture          *console.Capture
		exec             *procexec.Executor
		programs         *ProgramCache
	}

	// runtime is the isolated script context of one execution. Apart from
	// the state, it is only touched from its event loop.
	runtime struct {
		vm        *goja.Runtime
		loop      *eventloop.EventLoop
		ctx       context.Context
		store     *storage.Storage
		capture   *console.Capture
		exec      *procexec.Executor
		programs  *ProgramCache
		state     atomic.Int32
		parse     goja.Callable
		stringify goja.Callable
	}

	// execOptions are the options of siExec.waitUntilEnd.
	execOptions struct {
		Input *string           `json:"input"`
		Cwd   string            `json:"cwd"`
		Env   map[string]string `json:"env"`
	}

	// constructor makes a fresh builder for a global constructor.
	constructor struct {
		name string
		make func() any
	}
)

// loopGlobals are installed by the event loop but are not part of the
// capability surface. setTimeout and clearTimeout stay.
var loopGlobals = []string{"require", "setInterval", "clearInterval", "setImmediate", "clearImmediate"}

var constructors = []constructor{
	{"AssetBuilder", func() any { return builder.NewAssetBuilder() }},
	{"PropBuilder", func() any { return builder.NewPropBuilder() }},
	{"SecretPropBuilder", func() any { return builder.NewSecretPropBuilder() }},
	{"SecretDefinitionBuilder", func() any { return builder.NewSecretDefinitionBuilder() }},
	{"SocketDefinitionBuilder", func() any { return builder.NewSocketDefinitionBuilder() }},
	{"ValueFromBuilder", func() any { return builder.NewValueFromBuilder() }},
	{"ValidationBuilder", func() any { return builder.NewValidationBuilder() }},
	{"PropWidgetDefinitionBuilder", func() any { return builder.NewPropWidgetDefinitionBuilder() }},
	{"MapKeyFuncBuilder", func() any { return builder.NewMapKeyFuncBuilder() }},
}

// newRuntime prepares vm for one execution. It must run on loop.
func newRuntime(ctx context.Context, vm *goja.Runtime, loop *eventloop.EventLoop, cfg runtimeConfig) (*runtime, error) {
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(cfg.maxCallStackSize)

	r := &runtime{
		vm:       vm,
		loop:     loop,
		ctx:      ctx,
		store:    cfg.store,
		capture:  cfg.capture,
		exec:     cfg.exec,
		programs: cfg.programs,
	}

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not callable")
	}
	r.parse, r.stringify = parse, stringify

	if err := vm.Set("eval", goja.Undefined()); err != nil {
		return nil, fmt.Errorf("remove eval: %w", err)
	}
	for _, name := range loopGlobals {
		if err := vm.GlobalObject().Delete(name); err != nil {
			return nil, fmt.Errorf("remove %s: %w", name, err)
		}
	}
	if _, err := vm.RunString(lockDownScript); err != nil {
		return nil, fmt.Errorf("disable Function constructor: %w", err)
	}

	for _, bind := range []func() error{r.bindConsole, r.bindStorage, r.bindExec, r.bindBuilders} {
		if err := bind(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// State returns the current execution state.
func (r *runtime) State() State { return State(r.state.Load()) }

func (r *runtime) setState(s State) { r.state.Store(int32(s)) }

// throw raises err as a script exception. Only call from a native function.
func (r *runtime) throw(err error) {
	panic(r.vm.NewGoError(err))
}

// requireRunning rejects side effects while code units load.
func (r *runtime) requireRunning(op string) {
	if r.State() == StateLoading {
		r.throw(fmt.Errorf("%s: %w", op, ErrSideEffectWhileLoading))
	}
}

// toJSON encodes a script value with JSON.stringify semantics.
func (r *runtime) toJSON(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, storage.ErrNotSerializable
	}
	s, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotSerializable, r.errorMessage(err))
	}
	if goja.IsUndefined(s) {
		return nil, storage.ErrNotSerializable
	}
	return []byte(s.String()), nil
}

// fromJSON turns a JSON document into a native script value. An empty
// document is undefined.
func (r *runtime) fromJSON(doc []byte) (goja.Value, error) {
	if len(doc) == 0 {
		return goja.Undefined(), nil
	}
	return r.parse(goja.Undefined(), r.vm.ToValue(string(doc)))
}

// decodeArg converts an optional script object into out through JSON.
func (r *runtime) decodeArg(v goja.Value, out any) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	doc, err := r.toJSON(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(doc, out)
}

// format renders a console argument: strings verbatim, anything else as JSON.
func (r *runtime) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	if s, err := r.stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
		return s.String()
	}
	return v.String()
}

// errorMessage extracts the message of a script exception.
func (r *runtime) errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return valueMessage(ex.Value())
	}
	return err.Error()
}

func valueMessage(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) && name.String() != "" {
				return name.String() + ": " + msg.String()
			}
			return msg.String()
		}
	}
	return v.String()
}

func (r *runtime) bindConsole() error {
	obj := r.vm.NewObject()
	levels := []struct {
		name  string
		level console.Level
	}{
		{"log", console.LevelInfo},
		{"info", console.LevelInfo},
		{"debug", console.LevelDebug},
		{"warn", console.LevelWarn},
		{"error", console.LevelError},
	}
	for _, l := range levels {
		level := l.level
		if err := obj.Set(l.name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, r.format(arg))
			}
			r.capture.Write(level, strings.Join(parts, " "))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return r.vm.Set("console", obj)
}

func (r *runtime) bindStorage() error {
	obj := r.vm.NewObject()
	methods := map[string]func(goja.FunctionCall) goja.Value{
		"getItem": func(call goja.FunctionCall) goja.Value {
			doc, ok := r.store.GetJSON(storage.Key(call.Argument(0).String()))
			if !ok {
				return goja.Undefined()
			}
			v, err := r.fromJSON(doc)
			if err != nil {
				r.throw(err)
			}
			return v
		},
		"setItem": func(call goja.FunctionCall) goja.Value {
			r.requireRunning("requestStorage.setItem")
			key := storage.Key(call.Argument(0).String())
			doc, err := r.toJSON(call.Argument(1))
			if err != nil {
				r.throw(fmt.Errorf("set %q: %w", key, err))
			}
			if err := r.store.SetJSON(key, doc); err != nil {
				r.throw(err)
			}
			return goja.Undefined()
		},
		"deleteItem": func(call goja.FunctionCall) goja.Value {
			r.requireRunning("requestStorage.deleteItem")
			r.store.Delete(storage.Key(call.Argument(0).String()))
			return goja.Undefined()
		},
		"getKeys": func(goja.FunctionCall) goja.Value {
			keys := r.store.Keys()
			items := make([]any, len(keys))
			for i, k := range keys {
				items[i] = k.String()
			}
			return r.vm.NewArray(items...)
		},
		"getEnv": func(call goja.FunctionCall) goja.Value {
			v, ok := r.store.Env(call.Argument(0).String())
			if !ok {
				return goja.Undefined()
			}
			return r.vm.ToValue(v)
		},
	}
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			return err
		}
	}
	return r.vm.Set("requestStorage", obj)
}

// bindExec exposes siExec.waitUntilEnd. The subprocess runs off the loop
// and the returned promise settles on it, so invocations may overlap.
func (r *runtime) bindExec() error {
	obj := r.vm.NewObject()
	if err := obj.Set("waitUntilEnd", func(call goja.FunctionCall) goja.Value {
		r.requireRunning("siExec.waitUntilEnd")

		cmd := call.Argument(0)
		if goja.IsUndefined(cmd) || goja.IsNull(cmd) {
			r.throw(procexec.ErrEmptyCommand)
		}
		var args []string
		if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
			if err := r.vm.ExportTo(a, &args); err != nil {
				r.throw(fmt.Errorf("siExec.waitUntilEnd: args must be an array of strings: %w", err))
			}
		}
		var opts execOptions
		if err := r.decodeArg(call.Argument(2), &opts); err != nil {
			r.throw(fmt.Errorf("siExec.waitUntilEnd: invalid options: %w", err))
		}

		runOpts := procexec.Options{Dir: opts.Cwd, Env: opts.Env}
		if opts.Input != nil {
			runOpts.Stdin = strings.NewReader(*opts.Input)
		}

		promise, resolve, reject := r.vm.NewPromise()
		command := cmd.String()
		go func() {
			res, err := r.exec.Run(r.ctx, command, args, runOpts)
			r.loop.RunOnLoop(func(vm *goja.Runtime) {
				if err != nil {
					reject(vm.NewGoError(err))
					return
				}
				out := vm.NewObject()
				_ = out.Set("stdout", res.Stdout)
				_ = out.Set("stderr", res.Stderr)
				_ = out.Set("exitCode", res.ExitCode)
				resolve(out)
			})
		}()
		return r.vm.ToValue(promise)
	}); err != nil {
		return err
	}
	return r.vm.Set("siExec", obj)
}

func (r *runtime) bindBuilders() error {
	for _, c := range constructors {
		mk := c.make
		if err := r.vm.Set(c.name, func(goja.ConstructorCall) *goja.Object {
			return r.vm.ToValue(mk()).ToObject(r.vm)
		}); err != nil {
			return fmt.Errorf("bind %s: %w", c.name, err)
		}
	}
	return nil
}
