// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/deps"
	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/internal/secrets"
	"github.com/provkit/provkit/internal/stage"

	"github.com/charmbracelet/log"
)

// Compile-time interface check
var _ CredentialProvisioner = (*secrets.Provisioner)(nil)

type (
	// CredentialProvisioner prepares the build-time SSH credential.
	CredentialProvisioner interface {
		Provision(ctx context.Context, h secrets.Handle, host string) (*secrets.Credentials, error)
	}

	// Request describes one image build.
	Request struct {
		// Tag is the full image reference to build.
		Tag     string
		Push    bool
		NoCache bool
		// KeepContext leaves the temp build context on disk for inspection.
		KeepContext bool
		// Stdout and Stderr receive engine output. Nil means os.Stderr.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Result describes a finished build.
	Result struct {
		Tag    string
		Digest string
		// ContextDir is set only when Request.KeepContext was true.
		ContextDir string
		Pushed     bool
	}

	// Preview is a sealed plan computed without provisioning credentials.
	Preview struct {
		Plan   *stage.Plan
		Digest string
	}

	// Builder runs the two-stage image build.
	Builder struct {
		engine     container.Engine
		creds      CredentialProvisioner
		opts       Options
		logger     *log.Logger
		executable func() (string, error)
	}
)

// NewBuilder creates a Builder.
func NewBuilder(engine container.Engine, creds CredentialProvisioner, opts Options, logger *log.Logger) *Builder {
	return &Builder{
		engine:     engine,
		creds:      creds,
		opts:       opts,
		logger:     logger,
		executable: os.Executable,
	}
}

// Build builds req.Tag. Credentials are provisioned before the context is
// assembled and torn down when Build returns, whatever the outcome.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	if req.Tag == "" {
		return nil, fmt.Errorf("image tag is required")
	}

	m, err := b.loadManifest()
	if err != nil {
		return nil, err
	}

	creds, err := b.creds.Provision(ctx, b.opts.Handle, b.opts.Host)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := creds.Close(); cerr != nil {
			b.logger.Warn("credential teardown failed", "err", cerr)
		}
	}()

	bc, err := prepareContext(m, b.opts, b.executable)
	if err != nil {
		return nil, err
	}
	if !req.KeepContext {
		defer bc.cleanup()
	}

	plan, err := b.plan(creds, bc)
	if err != nil {
		return nil, err
	}
	digest, err := plan.Seal(bc.Inputs)
	if err != nil {
		return nil, err
	}
	if err := writeContainerfile(bc.Dir, plan); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.logger.Info("building image", "tag", req.Tag, "digest", digest, "engine", b.engine.Name())
	buildOpts := container.BuildOptions{
		ContextDir:    bc.Dir,
		Containerfile: ContainerfileName,
		Tag:           req.Tag,
		Target:        string(stage.Runner),
		Platform:      b.opts.Platform,
		BuildArgs:     map[string]string{"SOURCE_DATE_EPOCH": strconv.FormatInt(b.opts.SourceDateEpoch, 10)},
		SSH:           []container.SSHMount{creds.SSHMount()},
		Secrets:       creds.SecretMounts(),
		NoCache:       req.NoCache,
		Stdout:        writerOr(req.Stdout),
		Stderr:        writerOr(req.Stderr),
	}
	if err := b.engine.Build(ctx, buildOpts); err != nil {
		return nil, err
	}

	res := &Result{Tag: req.Tag, Digest: digest}
	if req.KeepContext {
		res.ContextDir = bc.Dir
		b.logger.Info("build context kept", "dir", bc.Dir)
	}
	if req.Push {
		b.logger.Info("pushing image", "tag", req.Tag)
		if err := b.engine.Push(ctx, req.Tag); err != nil {
			return nil, err
		}
		res.Pushed = true
	}
	return res, nil
}

// Preview renders and seals the plan Build would use. It reads the same
// inputs but does not touch the SSH credential: the plan only depends on the
// handle id and the dependency host.
func (b *Builder) Preview() (*Preview, error) {
	m, err := b.loadManifest()
	if err != nil {
		return nil, err
	}
	bc, err := prepareContext(m, b.opts, b.executable)
	if err != nil {
		return nil, err
	}
	defer bc.cleanup()

	creds := &secrets.Credentials{Handle: b.opts.Handle, Rewrite: secrets.RewriteFor(b.opts.Host)}
	plan, err := b.plan(creds, bc)
	if err != nil {
		return nil, err
	}
	digest, err := plan.Seal(bc.Inputs)
	if err != nil {
		return nil, err
	}
	return &Preview{Plan: plan, Digest: digest}, nil
}

func (b *Builder) loadManifest() (*deps.Manifest, error) {
	path := filepath.Join(b.opts.ContextDir, b.opts.Manifest)
	m, err := deps.Load(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load dependency manifest").
			WithResource(path).
			WithSuggestion("Set build.manifest to a requirements.txt or pyproject.toml").
			Wrap(err).
			BuildError()
	}
	b.logger.Debug("manifest loaded", "path", path, "requirements", len(m.Requirements))
	return m, nil
}

func (b *Builder) plan(creds *secrets.Credentials, bc *buildContext) (*stage.Plan, error) {
	return stage.NewPlan(stage.PlanSpec{
		BuilderImage: b.opts.BuilderImage,
		RunnerImage:  b.opts.RunnerImage,
		Manifest:     deps.NormalizedName,
		Install:      deps.InstallStep(creds, deps.InstallOptions{UserBase: b.opts.UserBase}),
		UserBase:     b.opts.UserBase,
		AppDir:       b.opts.AppDir,
		AppFiles:     bc.AppFiles,
		Launcher:     LauncherName,
	})
}

func writeContainerfile(dir string, plan *stage.Plan) error {
	data, err := plan.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ContainerfileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write Containerfile: %w", err)
	}
	return nil
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}
