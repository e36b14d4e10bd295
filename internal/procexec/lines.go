// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"bytes"
	"sync"

	"github.com/funcbox/funcbox/internal/console"
)

// LineSink receives complete output lines as the child produces them.
type LineSink func(stream console.Stream, line string)

// lineWriter splits a byte stream into lines for a LineSink.
type lineWriter struct {
	mu      sync.Mutex
	stream  console.Stream
	sink    LineSink
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.sink(w.stream, string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.sink(w.stream, string(w.pending))
		w.pending = nil
	}
}
