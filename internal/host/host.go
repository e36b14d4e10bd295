// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/funcbox/funcbox/internal/console"
	"github.com/funcbox/funcbox/internal/protocol"
	"github.com/funcbox/funcbox/internal/sandbox"

	"github.com/charmbracelet/log"
)

var (
	// ErrRejected is wrapped when a message is answered with an error
	// message instead of a result.
	ErrRejected = errors.New("message rejected")
	// ErrDuplicateExecution is returned when an executionId is already in flight.
	ErrDuplicateExecution = errors.New("execution id is already in flight")
	// ErrUnknownExecution is returned when a kill names no in-flight execution.
	ErrUnknownExecution = errors.New("no in-flight execution with this id")
)

type (
	// Executor runs one job to its outcome. *sandbox.Engine implements it.
	Executor interface {
		Execute(ctx context.Context, job sandbox.Job, sink console.Sink) *sandbox.Outcome
	}

	// Config holds the settings of a Host.
	Config struct {
		Executor Executor
		// ConcurrencyLimit bounds executions running at once across every
		// stream. Zero uses the number of CPUs.
		ConcurrencyLimit int
		Logger           *log.Logger
	}

	// Host dispatches requests from any number of streams. Execution ids are
	// unique across all of them while in flight.
	Host struct {
		exec     Executor
		sem      chan struct{}
		logger   *log.Logger
		mu       sync.Mutex
		inflight map[string]context.CancelCauseFunc
	}

	// admission is a request that passed validation and holds its id.
	admission struct {
		req    *protocol.Request
		ctx    context.Context
		cancel context.CancelCauseFunc
	}

	// RejectionError carries the message sent for a rejected request.
	// It wraps ErrRejected and the cause for errors.Is() compatibility.
	RejectionError struct {
		ExecutionID string
		Err         error
	}
)

// Error implements the error interface for RejectionError.
func (e *RejectionError) Error() string {
	if e.ExecutionID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("execution %s: %v", e.ExecutionID, e.Err)
}

// Unwrap returns ErrRejected and the cause.
func (e *RejectionError) Unwrap() []error { return []error{ErrRejected, e.Err} }

// New creates a Host.
func New(cfg Config) *Host {
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Host{
		exec:     cfg.Executor,
		sem:      make(chan struct{}, limit),
		logger:   logger,
		inflight: make(map[string]context.CancelCauseFunc),
	}
}

// Serve reads messages from dec until the stream ends and writes every
// response to enc. It returns once the executions it started have written
// their results. Cancelling ctx kills them.
func (h *Host) Serve(ctx context.Context, dec protocol.Decoder, enc protocol.Encoder) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		req, err := dec.Decode()
		if err != nil {
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				h.reject(enc, decErr.ExecutionID, err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		if req.IsKill() {
			if req.ExecutionID == "" {
				h.reject(enc, "", protocol.ErrMissingExecutionID)
			} else if !h.Kill(req.ExecutionID) {
				h.reject(enc, req.ExecutionID, ErrUnknownExecution)
			}
			continue
		}

		a, err := h.admit(ctx, req, enc)
		if err != nil || a == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.run(a, enc)
		}()
	}
}

// Execute admits and runs a single request, writing its output and result
// to enc. A rejected request returns a *RejectionError after the error
// message is written; an invalid request returns its failure result.
func (h *Host) Execute(ctx context.Context, req *protocol.Request, enc protocol.Encoder) (*protocol.Result, error) {
	if req.IsKill() {
		err := fmt.Errorf("%w: kill messages are only accepted on a stream", protocol.ErrInvalidRequest)
		h.reject(enc, req.ExecutionID, err)
		return nil, &RejectionError{ExecutionID: req.ExecutionID, Err: err}
	}
	a, err := h.admit(ctx, req, enc)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return invalidResult(req), nil
	}
	return h.run(a, enc), nil
}

// Kill cancels an in-flight execution. It reports whether one was found.
func (h *Host) Kill(executionID string) bool {
	h.mu.Lock()
	cancel, ok := h.inflight[executionID]
	h.mu.Unlock()
	if ok {
		h.logger.Info("killing execution", "executionId", executionID)
		cancel(sandbox.ErrKilled)
	}
	return ok
}

// InFlight returns the number of admitted executions without a result yet.
func (h *Host) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// admit validates req and reserves its id. It returns nil without an error
// when the request was answered with an invalidRequest failure.
func (h *Host) admit(ctx context.Context, req *protocol.Request, enc protocol.Encoder) (*admission, error) {
	id := req.ExecutionID
	validationErr := req.Validate()
	if id == "" {
		return nil, h.reject(enc, "", validationErr)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	h.mu.Lock()
	_, dup := h.inflight[id]
	if !dup && validationErr == nil {
		h.inflight[id] = cancel
	}
	h.mu.Unlock()

	if dup {
		cancel(nil)
		return nil, h.reject(enc, id, ErrDuplicateExecution)
	}
	if validationErr != nil {
		cancel(nil)
		h.logger.Warn("invalid request", "executionId", id, "error", validationErr)
		h.write(enc, invalidResult(req))
		return nil, nil
	}
	return &admission{req: req, ctx: ctx, cancel: cancel}, nil
}

// run executes an admitted request and writes its result last.
func (h *Host) run(a *admission, enc protocol.Encoder) *protocol.Result {
	id := a.req.ExecutionID
	defer h.release(id)
	defer a.cancel(nil)

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	case <-a.ctx.Done():
		res := protocol.NewFailure(id, a.req.Kind, protocol.ErrorKindKilled, "execution was killed before it started", 0)
		h.write(enc, res)
		return res
	}

	logger := h.logger.With("executionId", id)
	logger.Debug("execution started", "kind", a.req.Kind, "beforeFunctions", len(a.req.BeforeFunctions))

	sink := func(l console.Line) {
		h.write(enc, protocol.NewOutput(id, l.Stream.String(), l.Level.String(), l.Message, l.Time))
	}
	out := h.exec.Execute(a.ctx, jobFor(a.req), sink)
	res := resultFor(a.req, out)
	h.write(enc, res)

	logger.Info("execution finished", "outcome", res.Outcome, "errorKind", res.ErrorKind, "durationMs", res.DurationMs)
	return res
}

func (h *Host) release(id string) {
	h.mu.Lock()
	delete(h.inflight, id)
	h.mu.Unlock()
}

// reject writes an error message and returns the matching error.
func (h *Host) reject(enc protocol.Encoder, executionID string, cause error) error {
	h.logger.Warn("rejecting message", "executionId", executionID, "error", cause)
	h.write(enc, protocol.NewError(executionID, cause.Error()))
	return &RejectionError{ExecutionID: executionID, Err: cause}
}

func (h *Host) write(enc protocol.Encoder, msg any) {
	if err := enc.Encode(msg); err != nil {
		h.logger.Error("failed to write message", "type", fmt.Sprintf("%T", msg), "error", err)
	}
}
