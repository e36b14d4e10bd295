// SPDX-License-Identifier: MPL-2.0

// Package serverbase runs the lifecycle shared by every funcbox transport:
// bind, serve in the background, report failures and shut down once.
//
// A transport supplies Hooks; Base owns the state machine around them.
package serverbase
