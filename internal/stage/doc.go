// SPDX-License-Identifier: MPL-2.0

// Package stage models the two-stage image build: a builder stage that may
// use build secrets to install dependencies, and a runner stage that receives
// only an explicit promotion set. A Plan renders to a deterministic
// Containerfile and carries a digest of everything that shaped it.
package stage
