// SPDX-License-Identifier: MPL-2.0

// Package storage provides the request-scoped key/value scratch space that
// before-functions and the main function of a single execution share.
//
// A Storage is created empty when a request starts and dropped when the
// request reaches its terminal outcome. Values are held as JSON documents so
// a reader never aliases the memory a writer handed in.
package storage
