// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors for the funcbox CLI and a catalog
// of Markdown troubleshooting guides rendered with Glamour.
package issue
