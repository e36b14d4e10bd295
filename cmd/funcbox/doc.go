// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the funcbox command-line interface.
//
// Every command receives an *App, the composition root that loads
// configuration and builds the execution host shared by the transports.
package cmd
