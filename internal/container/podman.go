// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PodmanEngine drives the podman CLI. Buildah accepts the same --ssh and
// --secret build flags as BuildKit, so no environment overrides are needed.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a Podman engine from the podman binary on PATH.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")
	allOpts := append([]BaseCLIEngineOption{WithName(string(EngineTypePodman))}, opts...)
	return &PodmanEngine{BaseCLIEngine: NewBaseCLIEngine(path, allOpts...)}
}

func (e *PodmanEngine) Name() string { return string(EngineTypePodman) }

// Available reports whether podman runs. Rootless podman has no daemon, so
// a working client is enough.
func (e *PodmanEngine) Available() bool {
	return e.probe("version", "--format", "{{.Client.Version}}")
}

func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Client.Version}}")
	if err != nil {
		return "", fmt.Errorf("podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists uses `podman image exists`, which exits 1 for a missing image.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return imagePresent(e.RunCommandStatus(ctx, "image", "exists", image))
}
