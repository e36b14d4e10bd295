// SPDX-License-Identifier: MPL-2.0

// Package procexec runs external programs on behalf of sandboxed code.
//
// Each child starts in its own process group with an environment built only
// from the configured allowlist. Output is buffered per stream and forwarded
// line by line to an optional sink. A non-zero exit status is returned as data;
// only failures to start or wait for the process are errors. Every child is
// registered with the request's Tracker so the whole group can be killed when
// the request is cancelled or times out.
package procexec
