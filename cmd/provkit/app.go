// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/provkit/provkit/internal/config"
	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/deps"
	"github.com/provkit/provkit/internal/invoke"
	"github.com/provkit/provkit/internal/launch"
	"github.com/provkit/provkit/internal/secrets"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory returns the container engine for the configured preference.
	EngineFactory func(preferred config.ContainerEngine) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reaches the outside world only through it.
	App struct {
		Config    ConfigProvider
		Engine    EngineFactory
		Checker   invoke.TagChecker
		RefLister deps.RefLister
		LookupEnv func(string) (string, bool)
		Environ   func() []string
		// InvokeOptions and LaunchOptions are passed to the operator tool and launcher.
		InvokeOptions []invoke.Option
		LaunchOptions []launch.Option

		stdout     io.Writer
		stderr     io.Writer
		verbose    bool
		configPath string
		cfg        *config.Config
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config        ConfigProvider
		Engine        EngineFactory
		Checker       invoke.TagChecker
		RefLister     deps.RefLister
		LookupEnv     func(string) (string, bool)
		Environ       func() []string
		InvokeOptions []invoke.Option
		LaunchOptions []launch.Option
		Stdout        io.Writer
		Stderr        io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(d Dependencies) *App {
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	if d.Config == nil {
		d.Config = config.NewProvider()
	}
	if d.Engine == nil {
		d.Engine = func(preferred config.ContainerEngine) (container.Engine, error) {
			return container.NewEngine(container.EngineType(preferred))
		}
	}
	if d.Checker == nil {
		d.Checker = invoke.NewRegistryChecker()
	}
	if d.RefLister == nil {
		d.RefLister = deps.GitLister{}
	}
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
	if d.Environ == nil {
		d.Environ = os.Environ
	}

	return &App{
		Config:        d.Config,
		Engine:        d.Engine,
		Checker:       d.Checker,
		RefLister:     d.RefLister,
		LookupEnv:     d.LookupEnv,
		Environ:       d.Environ,
		InvokeOptions: d.InvokeOptions,
		LaunchOptions: d.LaunchOptions,
		stdout:        d.Stdout,
		stderr:        d.Stderr,
	}
}

// loadConfig loads configuration once per invocation.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

// logger returns a component logger writing to stderr.
func (a *App) logger(prefix string) *log.Logger {
	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{Prefix: prefix, Level: level})
}

// credentialProvisioner builds the secret provisioner from the secrets section.
func (a *App) credentialProvisioner(cfg *config.Config) *secrets.Provisioner {
	opts := []secrets.Option{secrets.WithLookupEnv(a.LookupEnv)}
	if cfg.Secrets.KnownHosts != "" {
		opts = append(opts, secrets.WithKnownHostsFile(cfg.Secrets.KnownHosts))
	}
	if len(cfg.Secrets.HostFingerprints) > 0 {
		opts = append(opts, secrets.WithPinnedFingerprints(cfg.Secrets.HostFingerprints))
	}
	return secrets.NewProvisioner(a.logger("secrets"), opts...)
}
