// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"time"

	"github.com/charmbracelet/log"
)

// Option configures a Base instance.
type Option func(*Base)

// WithErrorChannel sets the buffer size of the Err channel. Default is 1.
func WithErrorChannel(size int) Option {
	return func(b *Base) {
		b.errCh = make(chan error, size)
	}
}

// WithLogger sets the logger that receives lifecycle records.
func WithLogger(logger *log.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStartupTimeout bounds the Listen hook. Default is DefaultStartupTimeout.
func WithStartupTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.startupTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the Shutdown hook. Default is DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}
