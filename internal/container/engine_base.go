// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/pkg/types"
)

// ErrInvalidPortMapping is the sentinel error wrapped by InvalidPortMappingError.
var ErrInvalidPortMapping = errors.New("invalid port mapping")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the argument builders and process plumbing shared
	// by the Docker and Podman engines. Engine-specific methods (Available,
	// Version, ImageExists) live on the concrete types.
	BaseCLIEngine struct {
		name            string // Engine name for error messages (e.g., "docker", "podman")
		binaryPath      string
		execCommand     ExecCommandFunc
		cmdEnvOverrides map[string]string
	}

	// PortMapping publishes a container port on the host (TCP).
	PortMapping struct {
		HostPort      types.ListenPort
		ContainerPort types.ListenPort
	}

	// InvalidPortMappingError is returned when a port mapping cannot be used.
	InvalidPortMappingError struct {
		Value  string
		Reason string
	}
)

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithBinaryPath overrides the binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithCmdEnvOverride adds an environment variable applied to every exec.Cmd
// created by this engine. Docker uses it to force DOCKER_BUILDKIT=1.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs arguments for a container build command. Map-valued
// options are emitted in key order so identical options give identical argv.
//
// Generated command: <binary> build [options] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Containerfile != "" {
		containerfile := opts.Containerfile
		if !filepath.IsAbs(containerfile) && opts.ContextDir != "" {
			containerfile = filepath.Join(opts.ContextDir, containerfile)
		}
		args = append(args, "-f", containerfile)
	}

	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.Target != "" {
		args = append(args, "--target", opts.Target)
	}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	for _, k := range slices.Sorted(maps.Keys(opts.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	for _, s := range opts.SSH {
		spec := s.ID
		if len(s.Sources) > 0 {
			spec += "=" + strings.Join(s.Sources, ",")
		}
		args = append(args, "--ssh", spec)
	}
	for _, s := range opts.Secrets {
		args = append(args, "--secret", fmt.Sprintf("id=%s,src=%s", s.ID, s.Src))
	}

	args = append(args, opts.ContextDir)

	return args
}

// RunArgs constructs arguments for a container run command.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}

	for _, p := range opts.Ports {
		args = append(args, "-p", p.String())
	}

	// Values are passed as -e NAME=VALUE so that empty values are set rather
	// than inherited from the engine's own environment.
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return args
}

// PushArgs constructs arguments for a push command.
func (e *BaseCLIEngine) PushArgs(image string) []string {
	return []string{"push", image}
}

// RemoveImageArgs constructs arguments for an image removal command.
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, image)
}

// --- Command Execution ---

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return out.String(), nil
}

// CreateCommand creates an exec.Cmd with engine-level env overrides applied.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if len(e.cmdEnvOverrides) > 0 {
		// A non-nil Env replaces the inherited environment, so start from ours.
		cmd.Env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(e.cmdEnvOverrides)) {
			cmd.Env = append(cmd.Env, k+"="+e.cmdEnvOverrides[k])
		}
	}
	return cmd
}

// probeTimeout bounds availability checks against a hung daemon socket.
const probeTimeout = 10 * time.Second

// probe runs a short command and reports whether it succeeded.
func (e *BaseCLIEngine) probe(args ...string) bool {
	if e.binaryPath == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return e.CreateCommand(ctx, args...).Run() == nil
}

// imagePresent maps the status of an image lookup command: exit 1 means the
// image is absent, anything else non-zero is a real failure.
func imagePresent(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// --- Shared Engine Methods ---

// Build builds an image after validating the options.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, err)
	}
	return nil
}

// Push pushes image to its registry.
func (e *BaseCLIEngine) Push(ctx context.Context, image string) error {
	cmd := e.CreateCommand(ctx, e.PushArgs(image)...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return issue.NewErrorContext().
			WithOperation("push image").
			WithResource(image).
			WithSuggestion("Log in to the registry (try: " + e.name + " login <registry>)").
			Wrap(err).
			BuildError()
	}
	return nil
}

// Run runs a container in the foreground. A non-zero container exit is
// reported through RunResult.ExitCode; only failures to start the engine
// process are returned as errors.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()
	if err == nil {
		return &RunResult{}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &RunResult{ExitCode: types.ExitCode(exitErr.ExitCode())}, nil
	}
	return nil, runContainerError(e.name, opts, err)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// --- Port Mappings ---

// String returns "host:container".
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
}

// Validate checks both ports.
func (p PortMapping) Validate() error {
	if p.HostPort.Validate() != nil || p.ContainerPort.Validate() != nil {
		return &InvalidPortMappingError{Value: p.String(), Reason: "ports must be between 1 and 65535"}
	}
	return nil
}

// ParsePortMapping parses "host:container" or a single port published on the same host port.
func ParsePortMapping(s string) (PortMapping, error) {
	hostStr, containerStr, found := strings.Cut(s, ":")
	if !found {
		containerStr = hostStr
	}

	host, err := types.ParseListenPort(hostStr)
	if err != nil {
		return PortMapping{}, &InvalidPortMappingError{Value: s, Reason: err.Error()}
	}
	ctr, err := types.ParseListenPort(containerStr)
	if err != nil {
		return PortMapping{}, &InvalidPortMappingError{Value: s, Reason: err.Error()}
	}
	return PortMapping{HostPort: host, ContainerPort: ctr}, nil
}

func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %q: %s", e.Value, e.Reason)
}

func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// --- Actionable Error Helpers ---

// buildContainerError creates an actionable error for container build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image")

	switch {
	case opts.Tag != "":
		ctx.WithResource(opts.Tag)
	case opts.ContextDir != "":
		ctx.WithResource(opts.ContextDir)
	}

	if len(opts.SSH) > 0 {
		ctx.WithSuggestion("Check that the deploy key can read the private repositories (try: provkit check)")
	}
	ctx.WithSuggestion("Ensure base images are available (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Run with --verbose to see full build output")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for container run failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	return issue.NewErrorContext().
		WithOperation("run container").
		WithResource(opts.Image).
		WithSuggestion("Verify that " + engine + " is installed and its daemon is reachable").
		WithSuggestion("Ensure the published port is not used by another service").
		Wrap(cause).
		BuildError()
}
