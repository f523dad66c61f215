// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE helpers for validating project files.
//
// Project files are validated by unifying user data with an embedded schema
// definition and decoding the result into a plain map, which callers merge
// into a viper instance so defaults and environment overrides keep working:
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	values, err := cueutil.DecodeMap(schema, data, "#Config", "provkit.cue")
//	if err != nil {
//	    return err // error includes the CUE path of the offending field
//	}
//	_ = v.MergeConfigMap(values)
package cueutil
