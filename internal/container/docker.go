// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerEngine drives the docker CLI. Every command runs with BuildKit
// enabled: the legacy builder rejects --ssh and --secret.
type DockerEngine struct {
	*BaseCLIEngine
}

// NewDockerEngine creates a Docker engine from the docker binary on PATH.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	path, _ := exec.LookPath("docker")
	allOpts := append([]BaseCLIEngineOption{
		WithName(string(EngineTypeDocker)),
		WithCmdEnvOverride("DOCKER_BUILDKIT", "1"),
	}, opts...)
	return &DockerEngine{BaseCLIEngine: NewBaseCLIEngine(path, allOpts...)}
}

func (e *DockerEngine) Name() string { return string(EngineTypeDocker) }

// Available reports whether the CLI is installed and the daemon answers.
// A client without a reachable daemon cannot build, so it counts as absent.
func (e *DockerEngine) Available() bool {
	return e.probe("version", "--format", "{{.Server.Version}}")
}

// Version returns the daemon version, not the client's.
func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("docker version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks local storage. docker exits 1 for an unknown image;
// any other failure is returned.
func (e *DockerEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return imagePresent(e.RunCommandStatus(ctx, "image", "inspect", "--format", "{{.Id}}", image))
}
