// SPDX-License-Identifier: MPL-2.0

// Package secrets prepares the build-time SSH credential used to fetch private
// dependencies: it checks the SSH handle, establishes trust in the dependency
// host, and describes the https-to-ssh URL rewrite as step-scoped git settings.
//
// Nothing in this package writes to the build context. The only file it creates
// is the known-hosts record handed to the engine as a secret mount, and
// Credentials.Close removes it.
package secrets
