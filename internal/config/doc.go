// SPDX-License-Identifier: MPL-2.0

// Package config loads funcbox settings with Viper, using CUE as the file
// format.
//
// Defaults are overlaid by config.cue (from the user config directory, or the
// current directory, or an explicit path) and then by FUNCBOX_* environment
// variables. The file is validated against the embedded config_schema.cue.
package config
