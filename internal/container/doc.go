// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman CLIs: image builds with
// BuildKit ssh and secret mounts, pushes, registry-free existence checks and
// foreground container runs.
package container
