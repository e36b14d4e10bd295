// SPDX-License-Identifier: MPL-2.0

// Package queue runs the protocol over Redis lists. The worker pops requests
// from one list and appends every response message of an execution to a
// per-execution list that expires after a TTL.
package queue
