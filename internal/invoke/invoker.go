// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/pkg/types"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

const (
	// ContainerPort is the port the provider serves on inside the container.
	ContainerPort types.ListenPort = 8000
	// PortEnv tells the launcher which port to bind.
	PortEnv = "PORT"
)

// ErrImageNotFound is returned when the resolved tag is not in the registry.
var ErrImageNotFound = errors.New("image tag not found in registry")

// SecretNames are forwarded from the operator's environment, in order.
var SecretNames = []string{"API_KEY", "CLIENT_ID", "CLIENT_SECRET"}

type (
	// Request describes one operator invocation.
	Request struct {
		Suffix string
		// Lookup reads the operator's environment. Nil means os.LookupEnv.
		Lookup func(string) (string, bool)
		// SkipRegistryCheck starts the container without asking the registry.
		SkipRegistryCheck bool

		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// Invoker resolves, checks and runs provider images.
	Invoker struct {
		coord    Coordinate
		engine   container.Engine
		checker  TagChecker
		logger   *log.Logger
		terminal func() bool
	}

	// Option configures an Invoker.
	Option func(*Invoker)
)

// WithTerminalCheck replaces the stdin terminal detection.
func WithTerminalCheck(fn func() bool) Option {
	return func(i *Invoker) { i.terminal = fn }
}

// New creates an Invoker.
func New(coord Coordinate, engine container.Engine, checker TagChecker, logger *log.Logger, opts ...Option) *Invoker {
	i := &Invoker{
		coord:    coord,
		engine:   engine,
		checker:  checker,
		logger:   logger,
		terminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run resolves req.Suffix, confirms the tag is published and runs the image
// in the foreground. The returned exit code is the container engine's.
func (i *Invoker) Run(ctx context.Context, req Request) (types.ExitCode, error) {
	ref, err := i.coord.Resolve(req.Suffix)
	if err != nil {
		return 1, err
	}

	if req.SkipRegistryCheck {
		i.logger.Warn("registry check skipped", "image", ref)
	} else {
		exists, err := i.checker.Exists(ctx, ref.Reference())
		if err != nil {
			return 1, issue.NewErrorContext().
				WithOperation("check image tag").
				WithResource(ref.String()).
				WithSuggestion("Log in to the registry (docker login " + i.coord.Registry + ")").
				WithSuggestion("Or pass --skip-registry-check to use a local image").
				Wrap(err).
				BuildError()
		}
		if !exists {
			return 1, issue.NewErrorContext().
				WithOperation("find image").
				WithResource(ref.String()).
				WithSuggestion("Check the version suffix; tag " + ref.Tag() + " has not been published").
				Wrap(ErrImageNotFound).
				BuildError()
		}
	}

	opts := i.RunOptions(ref, req)
	i.logger.Info("starting provider", "image", ref, "port", opts.Ports[0].String(), "tty", opts.TTY)
	res, err := i.engine.Run(ctx, opts)
	if err != nil {
		return 1, err
	}
	return res.ExitCode, nil
}

// RunOptions returns the engine options for ref. ContainerPort is published
// on the same host port. The environment always holds PORT and every name in
// SecretNames; unset secrets are forwarded empty and reported, never validated.
func (i *Invoker) RunOptions(ref ImageRef, req Request) container.RunOptions {
	lookup := req.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := map[string]string{PortEnv: ContainerPort.String()}
	for _, name := range SecretNames {
		v, ok := lookup(name)
		if !ok || v == "" {
			i.logger.Warn("provider credential not set; forwarding empty value", "name", name)
		}
		env[name] = v
	}

	return container.RunOptions{
		Image:       ref.String(),
		Env:         env,
		Ports:       []container.PortMapping{{HostPort: ContainerPort, ContainerPort: ContainerPort}},
		Remove:      true,
		Interactive: true,
		TTY:         i.terminal(),
		Stdin:       readerOr(req.Stdin, os.Stdin),
		Stdout:      writerOr(req.Stdout, os.Stdout),
		Stderr:      writerOr(req.Stderr, os.Stderr),
	}
}

func readerOr(r, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func writerOr(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
