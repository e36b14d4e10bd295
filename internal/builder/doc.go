// SPDX-License-Identifier: MPL-2.0

// Package builder implements the fluent builders schema functions use to
// describe assets: props, secret props, sockets, value sources, validations,
// widgets and map key functions.
//
// Builders are mutable and chainable. Build validates the accumulated state
// and returns a deep copy, so calling it twice yields equal, independent
// values and later builder mutation never reaches an already built tree.
package builder
