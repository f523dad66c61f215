// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/provkit/provkit/internal/config"
	"github.com/provkit/provkit/internal/issue"

	"github.com/charmbracelet/log"
)

type (
	// ExecFunc replaces the current process. It returns only on failure.
	ExecFunc func(path string, argv []string, environ []string) error

	// Launcher builds and starts the server command.
	Launcher struct {
		Server string
		App    string

		logger   *log.Logger
		lookPath func(string) (string, error)
		exec     ExecFunc
	}

	// Option configures a Launcher.
	Option func(*Launcher)
)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *Launcher) { l.lookPath = fn }
}

// WithExec replaces the process replacement call.
func WithExec(fn ExecFunc) Option {
	return func(l *Launcher) { l.exec = fn }
}

// New creates a Launcher from the launch section of the configuration.
func New(cfg config.LaunchConfig, logger *log.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		Server:   cfg.Server,
		App:      cfg.App,
		logger:   logger,
		lookPath: exec.LookPath,
		exec:     replaceProcess,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Argv returns the server command line for rc. The server always binds
// every interface at the most verbose log level.
func (l *Launcher) Argv(rc *RuntimeConfig) []string {
	return []string{
		l.Server, l.App,
		"--host", BindHost,
		"--port", rc.Port.String(),
		"--log-level", LogLevel,
	}
}

// Launch validates the environment and replaces the process with the server.
// environ is passed through unchanged so the server reads its credentials
// directly. On success Launch does not return.
func (l *Launcher) Launch(ctx context.Context, environ []string) error {
	rc, err := LoadRuntimeConfig(lookupIn(environ))
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read runtime configuration").
			WithResource(PortEnv).
			WithSuggestion("Run the container with -e PORT=8000").
			Wrap(err).
			BuildError()
	}
	for _, name := range rc.Missing() {
		l.logger.Warn("provider credential not set", "name", name)
	}

	path, err := l.lookPath(l.Server)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("locate server").
			WithResource(l.Server).
			WithSuggestion("Add the server package to the dependency manifest").
			Wrap(err).
			BuildError()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	argv := l.Argv(rc)
	l.logger.Info("starting server", "path", path, "app", l.App, "port", rc.Port)
	if err := l.exec(path, argv, environ); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}

// lookupIn returns a lookup over a KEY=VALUE list. Later entries win.
func lookupIn(environ []string) func(string) (string, bool) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}
