// SPDX-License-Identifier: MPL-2.0

// Package deps reads the Python dependency manifest, produces the builder
// stage's install step, and verifies that private VCS requirements resolve.
package deps
