// SPDX-License-Identifier: MPL-2.0

// Package sshserver exposes the protocol over SSH using the Wish library.
// Each session is one protocol stream: requests on stdin, messages on
// stdout. Clients authenticate with a shared token as the password.
package sshserver
