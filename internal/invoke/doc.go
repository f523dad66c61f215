// SPDX-License-Identifier: MPL-2.0

// Package invoke starts a published provider image for an operator.
//
// The image reference is derived from a fixed template and a version suffix,
// checked against the registry, and run in the foreground with the provider
// credentials taken from the operator's environment.
package invoke
