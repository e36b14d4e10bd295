// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by tests: stopping servers during
// cleanup, polling for asynchronous conditions and limiting concurrent
// container use.
package testutil
