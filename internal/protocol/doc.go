// SPDX-License-Identifier: MPL-2.0

// Package protocol defines the messages exchanged with the orchestrator, the
// JSON-lines and CBOR sequence framings that carry them, and the per-kind
// normalization of function return values.
package protocol
