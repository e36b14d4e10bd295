// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/funcbox/funcbox/internal/console"
	"github.com/funcbox/funcbox/internal/procexec"
	"github.com/funcbox/funcbox/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

const (
	// DefaultTimeout is the budget of a request that does not set one.
	DefaultTimeout = time.Minute
	// DefaultMaxTimeout caps the budget a request may ask for.
	DefaultMaxTimeout = 10 * time.Minute
	// DefaultAbandonAfter is how long an interrupted execution may take to
	// unwind before its outcome is reported without it.
	DefaultAbandonAfter = 2 * time.Second
	// DefaultMaxCallStackSize bounds script recursion.
	DefaultMaxCallStackSize = 1000

	// BeforeFailureAbort stops the pipeline at the first failing before function.
	BeforeFailureAbort BeforeFailurePolicy = "abort"
	// BeforeFailureContinue logs a failing before function and moves on.
	BeforeFailureContinue BeforeFailurePolicy = "continue"
)

var (
	// ErrLoad is wrapped when a code unit fails to compile, throws while
	// loading or does not define its handler.
	ErrLoad = errors.New("failed to load function")
	// ErrUserCode is wrapped when a handler throws or its promise rejects.
	ErrUserCode = errors.New("function threw an exception")
	// ErrTimeout is the cause used when the budget runs out.
	ErrTimeout = errors.New("execution timed out")
	// ErrKilled is the cause callers use to kill an execution.
	ErrKilled = errors.New("execution killed")
	// ErrInternal is wrapped when the sandbox itself fails.
	ErrInternal = errors.New("sandbox failure")
	// ErrSideEffectWhileLoading is thrown by capabilities that mutate state
	// when called while code units are loading.
	ErrSideEffectWhileLoading = errors.New("not allowed while loading")
	// ErrInvalidBeforeFailurePolicy is returned when a BeforeFailurePolicy
	// value is not recognized.
	ErrInvalidBeforeFailurePolicy = errors.New("invalid before failure policy")

	// errFinished marks a supervisor stopped because the execution returned.
	errFinished = errors.New("execution finished")
)

type (
	// BeforeFailurePolicy decides what a failing before function does to the
	// rest of the pipeline.
	BeforeFailurePolicy string

	// InvalidBeforeFailurePolicyError is returned when a BeforeFailurePolicy
	// value is not recognized.
	// It wraps ErrInvalidBeforeFailurePolicy for errors.Is() compatibility.
	InvalidBeforeFailurePolicyError struct {
		Value BeforeFailurePolicy
	}

	// CodeUnit is one function's source and the name of its handler.
	CodeUnit struct {
		Code    string
		Handler string
		// Arg is the JSON argument of a before function; main uses Job.Args.
		Arg json.RawMessage
	}

	// Job is one execution request as the sandbox sees it.
	Job struct {
		ExecutionID string
		Main        CodeUnit
		Before      []CodeUnit
		// Args is the JSON argument of the main function.
		Args json.RawMessage
		// Timeout <= 0 uses the engine default; larger than the engine
		// maximum is clamped.
		Timeout time.Duration
		// SensitiveStrings are redacted from console lines and error messages.
		SensitiveStrings []string
	}

	// Outcome is the terminal state of one execution.
	Outcome struct {
		State State
		// Value is the exported return value of the main function.
		Value any
		// Undefined is set when the main function returned undefined.
		Undefined bool
		// Err is set for StateFailed and StateTimedOut.
		Err error
		// Console holds every captured line in emission order.
		Console  []console.Line
		Duration time.Duration
	}

	// ExecutionError describes why an execution failed.
	// It wraps one of ErrLoad, ErrUserCode, ErrTimeout, ErrKilled or
	// ErrInternal for errors.Is() compatibility.
	ExecutionError struct {
		Kind    error
		Stage   string
		Message string
	}

	// Options configure an Engine.
	Options struct {
		DefaultTimeout      time.Duration
		MaxTimeout          time.Duration
		AbandonAfter        time.Duration
		MaxCallStackSize    int
		BeforeFailurePolicy BeforeFailurePolicy
		// Env is the allowlisted host environment snapshot.
		Env map[string]string
		// KillGracePeriod is the time between SIGTERM and SIGKILL when a
		// subprocess is cancelled.
		KillGracePeriod time.Duration
		// Programs caches compiled code units; nil disables caching.
		Programs *ProgramCache
		Logger   *log.Logger
	}

	// Engine runs executions. It holds no per-request state and is safe for
	// concurrent use.
	Engine struct {
		opts   Options
		logger *log.Logger
	}
)

// Validate returns nil if the policy is abort or continue.
func (p BeforeFailurePolicy) Validate() error {
	switch p {
	case BeforeFailureAbort, BeforeFailureContinue:
		return nil
	default:
		return &InvalidBeforeFailurePolicyError{Value: p}
	}
}

// Error implements the error interface for InvalidBeforeFailurePolicyError.
func (e *InvalidBeforeFailurePolicyError) Error() string {
	return fmt.Sprintf("invalid before failure policy %q (valid: abort, continue)", e.Value)
}

// Unwrap returns ErrInvalidBeforeFailurePolicy for errors.Is() compatibility.
func (e *InvalidBeforeFailurePolicyError) Unwrap() error { return ErrInvalidBeforeFailurePolicy }

// Error implements the error interface for ExecutionError.
func (e *ExecutionError) Error() string {
	if e.Stage == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap returns the error kind.
func (e *ExecutionError) Unwrap() error { return e.Kind }

// New creates an Engine. Zero options take their defaults.
func New(opts Options) (*Engine, error) {
	if opts.BeforeFailurePolicy == "" {
		opts.BeforeFailurePolicy = BeforeFailureAbort
	}
	if err := opts.BeforeFailurePolicy.Validate(); err != nil {
		return nil, err
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = DefaultMaxTimeout
	}
	if opts.DefaultTimeout > opts.MaxTimeout {
		opts.DefaultTimeout = opts.MaxTimeout
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultAbandonAfter
	}
	if opts.MaxCallStackSize <= 0 {
		opts.MaxCallStackSize = DefaultMaxCallStackSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// Budget returns the effective budget for a requested timeout.
func (e *Engine) Budget(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.opts.DefaultTimeout
	}
	return min(requested, e.opts.MaxTimeout)
}

// Execute runs job to its terminal outcome. sink receives console lines as
// they are captured; it is never called after Execute returns.
// Cancelling ctx kills the execution: with cause ErrTimeout or
// context.DeadlineExceeded it is reported as timed out, otherwise as killed.
func (e *Engine) Execute(ctx context.Context, job Job, sink console.Sink) *Outcome {
	start := time.Now()
	logger := e.logger.With("executionId", job.ExecutionID)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	redactor := console.NewRedactor(job.SensitiveStrings)
	capture := console.NewCapture(redactor, sink)
	tracker := procexec.NewTracker()
	store := storage.New(e.opts.Env)
	defer store.Clear()

	exec := procexec.New(procexec.Config{
		Env:         e.opts.Env,
		GracePeriod: e.opts.KillGracePeriod,
		Sink:        capture.ProcessLine,
		Tracker:     tracker,
		Logger:      logger,
	})

	cfg := runtimeConfig{
		maxCallStackSize: e.opts.MaxCallStackSize,
		store:            store,
		capture:          capture,
		exec:             exec,
		programs:         e.opts.Programs,
	}

	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	loop.Start()
	sup := newSupervisor(cancel, loop, tracker, capture)
	budget := e.Budget(job.Timeout)
	timer := time.AfterFunc(budget, func() { sup.stop(ErrTimeout) })
	defer timer.Stop()

	done := make(chan *Outcome, 1)
	settle := func(o *Outcome) {
		select {
		case done <- o:
		default:
		}
	}
	loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				settle(&Outcome{
					State: StateFailed,
					Err:   &ExecutionError{Kind: ErrInternal, Message: fmt.Sprint(r)},
				})
			}
		}()
		sup.attach(vm)
		rt, err := newRuntime(ctx, vm, loop, cfg)
		if err != nil {
			settle(&Outcome{
				State: StateFailed,
				Err:   &ExecutionError{Kind: ErrInternal, Message: err.Error()},
			})
			return
		}
		rt.invoke(job, e.opts.BeforeFailurePolicy, settle)
	})

	var out *Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		sup.stop(context.Cause(ctx))
	}

	cause := sup.stop(errFinished)
	select {
	case <-sup.halted:
	case <-time.After(e.opts.AbandonAfter):
		logger.Warn("execution did not unwind after interrupt, abandoning it")
	}

	switch {
	case errors.Is(cause, errFinished):
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		out = &Outcome{
			State: StateTimedOut,
			Err:   &ExecutionError{Kind: ErrTimeout, Message: fmt.Sprintf("execution exceeded its budget of %s", budget)},
		}
	default:
		out = &Outcome{
			State: StateFailed,
			Err:   &ExecutionError{Kind: ErrKilled, Message: "execution was killed"},
		}
	}
	if out == nil {
		out = &Outcome{
			State: StateFailed,
			Err:   &ExecutionError{Kind: ErrInternal, Message: "execution ended without an outcome"},
		}
	}
	return e.finish(logger, start, capture, redactor, out)
}

func (e *Engine) finish(logger *log.Logger, start time.Time, capture *console.Capture, redactor *console.Redactor, out *Outcome) *Outcome {
	var execErr *ExecutionError
	if errors.As(out.Err, &execErr) {
		execErr.Message = redactor.Redact(execErr.Message)
	}
	out.Console = capture.Lines()
	out.Duration = time.Since(start)
	logger.Debug("execution finished", "state", out.State, "duration", out.Duration, "lines", len(out.Console))
	return out
}
