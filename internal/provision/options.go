// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"github.com/provkit/provkit/internal/config"
	"github.com/provkit/provkit/internal/secrets"
)

// Options holds the build inputs resolved from project configuration.
type Options struct {
	// ContextDir is the project directory the manifest and app files live in.
	ContextDir   string
	BuilderImage string
	RunnerImage  string
	// Manifest is relative to ContextDir.
	Manifest string
	// AppFiles are doublestar globs relative to ContextDir.
	AppFiles []string
	UserBase string
	AppDir   string
	// LauncherBinary is copied into the runner stage. Empty means the running executable.
	LauncherBinary  string
	Platform        string
	SourceDateEpoch int64

	Handle secrets.Handle
	Host   string
}

// OptionsFromConfig maps the build and secrets sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ContextDir:      cfg.Build.ContextDir,
		BuilderImage:    cfg.Build.BuilderImage,
		RunnerImage:     cfg.Build.RunnerImage,
		Manifest:        cfg.Build.Manifest,
		AppFiles:        cfg.Build.AppFiles,
		UserBase:        cfg.Build.UserBase,
		AppDir:          cfg.Build.AppDir,
		LauncherBinary:  cfg.Build.LauncherBinary,
		Platform:        cfg.Build.Platform,
		SourceDateEpoch: cfg.Build.SourceDateEpoch,
		Handle:          secrets.Handle{ID: cfg.Secrets.SSHID, Source: cfg.Secrets.SSHSource},
		Host:            cfg.Secrets.Host,
	}
}
