// SPDX-License-Identifier: MPL-2.0

// Package sandbox runs one function execution request inside a fresh goja
// runtime.
//
// An execution loads every code unit, runs the before functions in order and
// then the main function, all under one wall-clock budget. The runtime exposes
// request storage, a controlled subprocess executor, the asset builders and a
// console, and nothing else. When the budget runs out or the execution is
// killed, the engine is interrupted, every subprocess group the request
// started is killed and the console stops accepting lines.
package sandbox
