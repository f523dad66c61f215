// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/provkit/provkit/pkg/types"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrInvalidBuildOptions is the sentinel wrapped by InvalidBuildOptionsError.
	ErrInvalidBuildOptions = errors.New("invalid build options")
	// ErrInvalidRunOptions is the sentinel wrapped by InvalidRunOptionsError.
	ErrInvalidRunOptions = errors.New("invalid run options")
)

type (
	// Engine defines the container operations provkit needs.
	Engine interface {
		// Name returns the engine name (docker or podman)
		Name() string
		// Available checks if the engine is available on the system
		Available() bool
		// Version returns the engine version
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Containerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// Push pushes a local image to its registry.
		Push(ctx context.Context, image string) error
		// Run runs a container in the foreground and reports its exit code.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// ImageExists checks if an image exists in local storage.
		ImageExists(ctx context.Context, image string) (bool, error)
		// RemoveImage removes an image
		RemoveImage(ctx context.Context, image string, force bool) error
	}

	// SSHMount exposes an SSH agent socket or key files to RUN steps that
	// declare --mount=type=ssh,id=<ID>. An empty Sources forwards $SSH_AUTH_SOCK.
	SSHMount struct {
		ID      string
		Sources []string
	}

	// SecretMount exposes a host file to RUN steps that declare
	// --mount=type=secret,id=<ID>. The file never enters the build context.
	SecretMount struct {
		ID  string
		Src string
	}

	// BuildOptions contains options for building an image
	BuildOptions struct {
		// ContextDir is the build context directory
		ContextDir string
		// Containerfile is the path to the Containerfile (relative to ContextDir)
		Containerfile string
		// Tag is the image tag
		Tag string
		// Target selects the final stage.
		Target string
		// Platform is an optional os/arch build target.
		Platform string
		// BuildArgs are build-time variables
		BuildArgs map[string]string
		// Labels are added to the final image.
		Labels map[string]string
		SSH    []SSHMount
		// Secrets are file-backed secret mounts.
		Secrets []SecretMount
		// NoCache disables the build cache
		NoCache bool
		// Stdout is where to write build output
		Stdout io.Writer
		// Stderr is where to write build errors
		Stderr io.Writer
	}

	// RunOptions contains options for running a container
	RunOptions struct {
		// Image is the image to run
		Image string
		// Command overrides the image CMD.
		Command []string
		// Env contains environment variables
		Env map[string]string
		// Ports are port mappings
		Ports []PortMapping
		// Remove automatically removes the container after exit
		Remove bool
		// Name is the container name
		Name string
		// Stdin is the standard input
		Stdin io.Reader
		// Stdout is where to write standard output
		Stdout io.Writer
		// Stderr is where to write standard error
		Stderr io.Writer
		// Interactive keeps stdin open
		Interactive bool
		// TTY allocates a pseudo-TTY
		TTY bool
	}

	// RunResult contains the result of running a container
	RunResult struct {
		// ExitCode is the exit code of the engine process.
		ExitCode types.ExitCode
	}

	// EngineType identifies the container engine type
	EngineType string

	// ErrEngineNotAvailable is returned when a container engine is not available
	ErrEngineNotAvailable struct {
		Engine string
		Reason string
	}

	// InvalidBuildOptionsError lists the problems found by BuildOptions.Validate.
	InvalidBuildOptionsError struct {
		Problems []string
	}

	// InvalidRunOptionsError lists the problems found by RunOptions.Validate.
	InvalidRunOptionsError struct {
		Problems []string
	}
)

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

func (e *InvalidBuildOptionsError) Error() string {
	return "invalid build options: " + strings.Join(e.Problems, "; ")
}

func (e *InvalidBuildOptionsError) Unwrap() error { return ErrInvalidBuildOptions }

func (e *InvalidRunOptionsError) Error() string {
	return "invalid run options: " + strings.Join(e.Problems, "; ")
}

func (e *InvalidRunOptionsError) Unwrap() error { return ErrInvalidRunOptions }

// Validate checks the options before any process is spawned. Secret sources
// must exist on the host; a missing one fails the build here instead of inside
// the engine.
func (o BuildOptions) Validate() error {
	var problems []string
	if o.ContextDir == "" {
		problems = append(problems, "context directory is required")
	}
	for _, s := range o.SSH {
		if s.ID == "" {
			problems = append(problems, "ssh mount id is required")
		}
	}
	for _, s := range o.Secrets {
		if s.ID == "" {
			problems = append(problems, "secret mount id is required")
			continue
		}
		if _, err := os.Stat(s.Src); err != nil {
			problems = append(problems, fmt.Sprintf("secret %q source %q: %v", s.ID, s.Src, err))
		}
	}
	if len(problems) > 0 {
		return &InvalidBuildOptionsError{Problems: problems}
	}
	return nil
}

// Validate checks the run options.
func (o RunOptions) Validate() error {
	var problems []string
	if strings.TrimSpace(o.Image) == "" {
		problems = append(problems, "image is required")
	}
	for _, p := range o.Ports {
		if err := p.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	for k := range o.Env {
		if k == "" || strings.Contains(k, "=") {
			problems = append(problems, fmt.Sprintf("invalid env name %q", k))
		}
	}
	if len(problems) > 0 {
		return &InvalidRunOptionsError{Problems: problems}
	}
	return nil
}

// NewEngine creates a container engine for the preferred type, falling back
// to the other engine when the preferred one is not installed.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	var primary, fallback Engine
	switch preferredType {
	case EngineTypePodman:
		primary, fallback = NewPodmanEngine(opts...), NewDockerEngine(opts...)
	case EngineTypeDocker:
		primary, fallback = NewDockerEngine(opts...), NewPodmanEngine(opts...)
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferredType)
	}

	if primary.Available() {
		return primary, nil
	}
	if fallback.Available() {
		return fallback, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: string(preferredType),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available",
			primary.Name(), fallback.Name()),
	}
}
