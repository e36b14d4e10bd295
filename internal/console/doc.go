// SPDX-License-Identifier: MPL-2.0

// Package console captures the log output of sandboxed code.
//
// Every line is tagged with the stream it belongs to and a severity level,
// redacted, appended to an ordered buffer and handed to a sink so transports
// can forward it while the execution is still running. Once a Capture is
// closed no further lines are accepted.
package console
