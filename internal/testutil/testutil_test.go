// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStopper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeStopper) Stop() error {
	f.calls.Add(1)
	return f.err
}

func TestMustStop(t *testing.T) {
	t.Parallel()

	s := &fakeStopper{err: errors.New("already stopped")}
	MustStop(t, s)
	if s.calls.Load() != 1 {
		t.Errorf("Stop() called %d times, want 1", s.calls.Load())
	}
}

func TestStopOnCleanup(t *testing.T) {
	t.Parallel()

	s := &fakeStopper{}
	t.Run("registers", func(t *testing.T) {
		StopOnCleanup(t, s)
		if s.calls.Load() != 0 {
			t.Error("Stop() ran before cleanup")
		}
	})
	if s.calls.Load() != 1 {
		t.Errorf("Stop() called %d times after cleanup, want 1", s.calls.Load())
	}
}

func TestEventually(t *testing.T) {
	t.Parallel()

	start := time.Now()
	var n atomic.Int32
	Eventually(t, func() bool { return n.Add(1) >= 3 }, "counter reaches 3")
	if n.Load() != 3 {
		t.Errorf("cond evaluated %d times, want 3", n.Load())
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Eventually() took too long")
	}
}

func TestContainerParallelism(t *testing.T) {
	t.Parallel()

	fallback := min(runtime.GOMAXPROCS(0), 2)
	tests := []struct {
		override string
		want     int
	}{
		{"", fallback},
		{"4", 4},
		{"0", fallback},
		{"-1", fallback},
		{"many", fallback},
	}
	for _, tt := range tests {
		if got := containerParallelism(tt.override); got != tt.want {
			t.Errorf("containerParallelism(%q) = %d, want %d", tt.override, got, tt.want)
		}
	}
	if cap(ContainerSemaphore()) < 1 {
		t.Error("ContainerSemaphore() has no capacity")
	}
}
