// SPDX-License-Identifier: MPL-2.0

// Package httpapi exposes the protocol over HTTP with Fiber. An execute call
// answers with a newline-delimited JSON stream of the execution's messages.
package httpapi
