// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"testing"
	"time"
)

// DefaultEventuallyTimeout is how long Eventually polls by default.
const DefaultEventuallyTimeout = 10 * time.Second

// Stopper is implemented by transports and other long-running services.
type Stopper interface {
	Stop() error
}

// MustStop stops s, logging an error instead of failing the test, as
// shutdown errors during cleanup are typically non-fatal.
func MustStop(t testing.TB, s Stopper) {
	t.Helper()
	if err := s.Stop(); err != nil {
		t.Logf("warning: stop returned error: %v", err)
	}
}

// StopOnCleanup registers MustStop(s) with t.Cleanup.
func StopOnCleanup(t testing.TB, s Stopper) {
	t.Helper()
	t.Cleanup(func() { MustStop(t, s) })
}

// Eventually polls cond every 20ms until it holds, failing the test after
// DefaultEventuallyTimeout.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	EventuallyWithin(t, DefaultEventuallyTimeout, cond, msg)
}

// EventuallyWithin is Eventually with an explicit timeout.
func EventuallyWithin(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
