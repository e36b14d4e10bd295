// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultStartupTimeout bounds binding a transport.
	DefaultStartupTimeout = 5 * time.Second
	// DefaultShutdownTimeout bounds draining a transport.
	DefaultShutdownTimeout = 10 * time.Second
)

// ErrNotStartable is returned when Start is called outside the Created state.
var ErrNotStartable = errors.New("server cannot be started")

type (
	// Hooks are the transport-specific steps of the lifecycle.
	Hooks struct {
		// Listen binds the transport and returns its address. Required.
		Listen func(ctx context.Context) (string, error)
		// Serve blocks until the transport stops. A nil return after Stop is a
		// clean exit; any error before Stop fails the server. Required.
		Serve func(ctx context.Context) error
		// Shutdown drains the transport within ctx. Optional.
		Shutdown func(ctx context.Context) error
	}

	// Base drives a transport through Created, Starting, Running, Stopping and
	// a terminal state. A Base is single-use.
	Base struct {
		name            string
		hooks           Hooks
		logger          *log.Logger
		startupTimeout  time.Duration
		shutdownTimeout time.Duration

		state atomic.Int32

		mu      sync.Mutex
		addr    string
		lastErr error

		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{}
		errCh     chan error
	}
)

// NewBase creates a Base for the named transport.
func NewBase(name string, hooks Hooks, opts ...Option) *Base {
	b := &Base{
		name:            name,
		hooks:           hooks,
		logger:          log.New(io.Discard),
		startupTimeout:  DefaultStartupTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		startedCh:       make(chan struct{}),
		errCh:           make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start binds the transport and serves it in the background. It returns once
// the transport accepts work or binding failed. Use Err to watch for later
// failures.
func (b *Base) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.fail(fmt.Errorf("context cancelled before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w: %s server is %s", ErrNotStartable, b.name, b.State())
	}

	b.mu.Lock()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()

	listenCtx, cancel := context.WithTimeout(ctx, b.startupTimeout)
	defer cancel()
	addr, err := b.hooks.Listen(listenCtx)
	if err != nil {
		b.fail(fmt.Errorf("%s server: listen: %w", b.name, err))
		return b.LastError()
	}

	b.mu.Lock()
	b.addr = addr
	b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return fmt.Errorf("%w: %s server is %s", ErrNotStartable, b.name, b.State())
	}
	close(b.startedCh)

	b.wg.Add(1)
	go b.serve()

	b.logger.Info("server started", "transport", b.name, "address", addr)
	return nil
}

// Stop drains the transport and waits for it to exit. Calls after the first
// only wait.
func (b *Base) Stop() error {
	if !b.transitionToStopping() {
		b.wg.Wait()
		return nil
	}

	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var err error
	if b.hooks.Shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
		defer cancel()
		if err = b.hooks.Shutdown(ctx); err != nil {
			b.logger.Error("shutdown error", "transport", b.name, "error", err)
		}
	}

	b.wg.Wait()
	b.state.Store(int32(StateStopped))
	close(b.errCh)
	b.logger.Info("server stopped", "transport", b.name)
	return err
}

// Wait blocks until the serve loop exits and returns the failure, if any.
func (b *Base) Wait() error {
	b.wg.Wait()
	if b.State() == StateFailed {
		return b.LastError()
	}
	return nil
}

// WaitForReady blocks until the transport runs or ctx is done.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s server: %w", b.name, ctx.Err())
	}
}

// State returns the current lifecycle state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsRunning reports whether the transport accepts work.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// Addr returns the bound address, or "" before Start succeeded.
func (b *Base) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Context is cancelled when the server stops or fails. It is nil before Start.
func (b *Base) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// Err delivers failures that happen after Start returned.
func (b *Base) Err() <-chan error {
	return b.errCh
}

// LastError returns the error that failed the server, or nil.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Base) serve() {
	defer b.wg.Done()

	err := b.hooks.Serve(b.ctx)
	if err == nil {
		return
	}
	switch b.State() {
	case StateStopping, StateStopped:
		b.logger.Debug("serve returned during shutdown", "transport", b.name, "error", err)
	default:
		b.fail(fmt.Errorf("%s server: %w", b.name, err))
	}
}

func (b *Base) fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	cancel := b.cancel
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if cancel != nil {
		cancel()
	}
	b.logger.Error("server failed", "transport", b.name, "error", err)

	select {
	case b.errCh <- err:
	default:
	}
}

func (b *Base) transitionToStopping() bool {
	for {
		current := b.State()
		switch current {
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}
