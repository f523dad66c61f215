// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests that handle errors appropriately,
// plus throwaway SSH endpoints (agent sockets, key files, a host-key-only SSH
// server) for the secrets and dependency tests.
package testutil
