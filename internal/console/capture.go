// SPDX-License-Identifier: MPL-2.0

package console

import (
	"slices"
	"strings"
	"sync"
	"time"
)

type (
	// Line is one captured console entry.
	Line struct {
		Stream  Stream
		Level   Level
		Message string
		Time    time.Time
	}

	// Sink receives each line as soon as it is captured.
	// It is called with the capture lock held, so lines reach the sink in
	// capture order and never after Close returns.
	Sink func(Line)

	// Capture is the ordered output buffer of one execution.
	Capture struct {
		mu       sync.Mutex
		lines    []Line
		sink     Sink
		redactor *Redactor
		closed   bool
		now      func() time.Time
	}
)

// NewCapture creates a Capture. Both redactor and sink may be nil.
func NewCapture(redactor *Redactor, sink Sink) *Capture {
	return &Capture{
		sink:     sink,
		redactor: redactor,
		now:      time.Now,
	}
}

// Write records a line at the given level on the stream that level maps to.
// It reports false when the capture is already closed.
func (c *Capture) Write(level Level, message string) bool {
	return c.WriteStream(level.Stream(), level, message)
}

// WriteStream records a line with an explicit stream tag.
func (c *Capture) WriteStream(stream Stream, level Level, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	line := Line{
		Stream:  stream,
		Level:   level,
		Message: c.redactor.Redact(message),
		Time:    c.now(),
	}
	c.lines = append(c.lines, line)
	if c.sink != nil {
		c.sink(line)
	}
	return true
}

// ProcessLine adapts subprocess output for procexec. Standard output is
// recorded at info level and standard error at warn level.
func (c *Capture) ProcessLine(stream Stream, text string) {
	level := LevelInfo
	if stream == StreamStderr {
		level = LevelWarn
	}
	c.WriteStream(stream, level, strings.TrimRight(text, "\r\n"))
}

// Lines returns a copy of everything captured so far.
func (c *Capture) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

// Close stops accepting lines. Safe to call multiple times.
func (c *Capture) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
