// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"errors"
	"os/exec"
	"sync"
)

// ErrTrackerClosed is returned when a process is started after its request
// has already been cancelled.
var ErrTrackerClosed = errors.New("process tracker closed")

// Tracker records the outstanding children of one request.
type Tracker struct {
	mu     sync.Mutex
	procs  map[int]*exec.Cmd
	closed bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{procs: make(map[int]*exec.Cmd)}
}

// add registers a started command. If the tracker is already closed the
// command's process group is killed and ErrTrackerClosed is returned.
func (t *Tracker) add(cmd *exec.Cmd) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		_ = killGroup(cmd)
		return ErrTrackerClosed
	}
	t.procs[cmd.Process.Pid] = cmd
	return nil
}

func (t *Tracker) remove(cmd *exec.Cmd) {
	t.mu.Lock()
	delete(t.procs, cmd.Process.Pid)
	t.mu.Unlock()
}

// Outstanding returns the number of tracked processes still running.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Closed reports whether KillAll has been called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// KillAll sends SIGKILL to the process group of every outstanding child and
// refuses new ones. It returns the number of groups signalled.
func (t *Tracker) KillAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	n := 0
	for pid, cmd := range t.procs {
		// ESRCH from a group that already exited is harmless.
		_ = killGroup(cmd)
		delete(t.procs, pid)
		n++
	}
	return n
}
