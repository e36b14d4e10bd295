// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"sync"

	"github.com/funcbox/funcbox/internal/console"
	"github.com/funcbox/funcbox/internal/procexec"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// supervisor tears an execution down exactly once. The first stop cause
// decides the outcome: errFinished when the execution returned on its own,
// ErrTimeout when the budget ran out, anything else when it was killed.
type supervisor struct {
	mu    sync.Mutex
	cause error
	vm    *goja.Runtime

	cancel  context.CancelCauseFunc
	loop    *eventloop.EventLoop
	tracker *procexec.Tracker
	capture *console.Capture
	// halted is closed once the loop runs no more jobs.
	halted chan struct{}
}

func newSupervisor(cancel context.CancelCauseFunc, loop *eventloop.EventLoop, tracker *procexec.Tracker, capture *console.Capture) *supervisor {
	return &supervisor{
		cancel:  cancel,
		loop:    loop,
		tracker: tracker,
		capture: capture,
		halted:  make(chan struct{}),
	}
}

// attach registers the runtime to interrupt. A runtime attached after stop
// is interrupted at once.
func (s *supervisor) attach(vm *goja.Runtime) {
	s.mu.Lock()
	s.vm = vm
	cause := s.cause
	s.mu.Unlock()
	if cause != nil {
		vm.Interrupt(cause)
	}
}

// stop cancels the request context, interrupts the engine, stops the event
// loop, kills every tracked process group and closes the console. It returns
// the first cause.
func (s *supervisor) stop(cause error) error {
	s.mu.Lock()
	if s.cause != nil {
		first := s.cause
		s.mu.Unlock()
		return first
	}
	s.cause = cause
	vm := s.vm
	s.mu.Unlock()

	s.cancel(cause)
	if vm != nil {
		vm.Interrupt(cause)
	}
	go func() {
		s.loop.Stop()
		close(s.halted)
	}()
	s.tracker.KillAll()
	s.capture.Close()
	return cause
}
