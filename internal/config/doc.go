// SPDX-License-Identifier: MPL-2.0

// Package config handles project configuration using Viper with CUE as the file format.
//
// The project file is ./provkit.cue (or the --config path). It is validated against
// the embedded config_schema.cue, merged over built-in defaults, and finally
// overridden by PROVKIT_<SECTION>_<KEY> environment variables.
package config
