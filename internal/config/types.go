// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

const (
	// ContainerEngineDocker builds and runs through the docker CLI (BuildKit).
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman builds and runs through the podman CLI.
	ContainerEnginePodman ContainerEngine = "podman"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidField is the sentinel wrapped by InvalidFieldError.
	ErrInvalidField = errors.New("invalid config field")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine names the container CLI used for builds and runs.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// InvalidFieldError reports one config key whose value cannot be used.
	InvalidFieldError struct {
		Key    string
		Reason string
	}

	// InvalidConfigError aggregates every field error found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the resolved provkit project configuration.
	Config struct {
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		Image           ImageConfig     `json:"image" mapstructure:"image"`
		Build           BuildConfig     `json:"build" mapstructure:"build"`
		Secrets         SecretsConfig   `json:"secrets" mapstructure:"secrets"`
		Launch          LaunchConfig    `json:"launch" mapstructure:"launch"`
	}

	// ImageConfig holds the registry coordinate of the published image.
	// The full reference is <registry>/<project>/<repository>/images/<name>:<tag_prefix><suffix>.
	ImageConfig struct {
		Registry   string `json:"registry" mapstructure:"registry"`
		Project    string `json:"project" mapstructure:"project"`
		Repository string `json:"repository" mapstructure:"repository"`
		Name       string `json:"name" mapstructure:"name"`
		TagPrefix  string `json:"tag_prefix" mapstructure:"tag_prefix"`
		// Insecure allows plain-HTTP registries (local testing only).
		Insecure bool `json:"insecure" mapstructure:"insecure"`
	}

	// BuildConfig drives the two-stage image build.
	BuildConfig struct {
		ContextDir   string `json:"context_dir" mapstructure:"context_dir"`
		BuilderImage string `json:"builder_image" mapstructure:"builder_image"`
		RunnerImage  string `json:"runner_image" mapstructure:"runner_image"`
		// Manifest is the dependency manifest, relative to ContextDir.
		Manifest string `json:"manifest" mapstructure:"manifest"`
		// AppFiles are doublestar globs, relative to ContextDir, copied into AppDir.
		AppFiles []string `json:"app_files" mapstructure:"app_files"`
		// UserBase is the user-level install prefix produced by the builder stage
		// and promoted into the runner stage.
		UserBase string `json:"user_base" mapstructure:"user_base"`
		AppDir   string `json:"app_dir" mapstructure:"app_dir"`
		// LauncherBinary is the linux provkit binary copied into the runner stage.
		// Empty means the running executable.
		LauncherBinary  string `json:"launcher_binary" mapstructure:"launcher_binary"`
		Platform        string `json:"platform" mapstructure:"platform"`
		SourceDateEpoch int64  `json:"source_date_epoch" mapstructure:"source_date_epoch"`
	}

	// SecretsConfig describes the build-time SSH credential.
	SecretsConfig struct {
		// SSHID is the BuildKit ssh mount id.
		SSHID string `json:"ssh_id" mapstructure:"ssh_id"`
		// SSHSource is a comma-separated list of key files or agent sockets.
		// Empty means the agent at $SSH_AUTH_SOCK.
		SSHSource string `json:"ssh_source" mapstructure:"ssh_source"`
		// Host is the private dependency host whose https URLs are rewritten to ssh.
		Host string `json:"host" mapstructure:"host"`
		// KnownHosts is a known_hosts file to trust instead of scanning Host.
		KnownHosts       string   `json:"known_hosts" mapstructure:"known_hosts"`
		HostFingerprints []string `json:"host_fingerprints" mapstructure:"host_fingerprints"`
	}

	// LaunchConfig names the in-container server and application entry.
	// The bind address, port source and log level are fixed by the launcher.
	LaunchConfig struct {
		Server string `json:"server" mapstructure:"server"`
		App    string `json:"app" mapstructure:"app"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		Image: ImageConfig{
			Registry:   "us-central1-docker.pkg.dev",
			Project:    "provider-project",
			Repository: "providers",
			Name:       "provider",
			TagPrefix:  "v0.0.",
		},
		Build: BuildConfig{
			ContextDir:   ".",
			BuilderImage: "python:3.11",
			RunnerImage:  "python:3.11-slim",
			Manifest:     "requirements.txt",
			AppFiles:     []string{"provider.py"},
			UserBase:     "/opt/provider",
			AppDir:       "/app",
		},
		Secrets: SecretsConfig{
			SSHID:            "default",
			Host:             "github.com",
			HostFingerprints: []string{},
		},
		Launch: LaunchConfig{
			Server: "uvicorn",
			App:    "provider:app",
		},
	}
}

// Validate checks constraints viper-merged values must satisfy after env
// overrides, which bypass the CUE schema.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}

	required := map[string]string{
		"image.registry":      c.Image.Registry,
		"image.project":       c.Image.Project,
		"image.repository":    c.Image.Repository,
		"image.name":          c.Image.Name,
		"build.builder_image": c.Build.BuilderImage,
		"build.runner_image":  c.Build.RunnerImage,
		"build.manifest":      c.Build.Manifest,
		"secrets.ssh_id":      c.Secrets.SSHID,
		"secrets.host":        c.Secrets.Host,
		"launch.server":       c.Launch.Server,
		"launch.app":          c.Launch.App,
	}
	for _, key := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, &InvalidFieldError{Key: key, Reason: "must not be empty"})
		}
	}

	if !path.IsAbs(c.Build.UserBase) {
		errs = append(errs, &InvalidFieldError{Key: "build.user_base", Reason: "must be an absolute container path"})
	}
	if !path.IsAbs(c.Build.AppDir) {
		errs = append(errs, &InvalidFieldError{Key: "build.app_dir", Reason: "must be an absolute container path"})
	}
	if path.Clean(c.Build.UserBase) == path.Clean(c.Build.AppDir) {
		errs = append(errs, &InvalidFieldError{Key: "build.app_dir", Reason: "must differ from build.user_base"})
	}
	if len(c.Build.AppFiles) == 0 {
		errs = append(errs, &InvalidFieldError{Key: "build.app_files", Reason: "at least one pattern is required"})
	}
	if !strings.HasPrefix(c.Image.TagPrefix, "v") {
		errs = append(errs, &InvalidFieldError{Key: "image.tag_prefix", Reason: "must start with 'v'"})
	}
	if c.Build.SourceDateEpoch < 0 {
		errs = append(errs, &InvalidFieldError{Key: "build.source_date_epoch", Reason: "must not be negative"})
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns an error when the ContainerEngine is not a known engine.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *InvalidFieldError) Unwrap() error { return ErrInvalidField }

// Error lists every field error on its own line.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %d field error(s):\n  %s", len(e.FieldErrors), strings.Join(msgs, "\n  "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
