// SPDX-License-Identifier: MPL-2.0

// Package host serves protocol streams. It admits requests, runs them
// concurrently under a limit, routes kill messages to in-flight executions
// and writes every output line before the single terminal result of an
// execution.
package host
