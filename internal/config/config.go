// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/pkg/cueutil"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "provkit"
	// FileName is the project config file looked up in the working directory.
	FileName = "provkit.cue"
	// EnvPrefix prefixes environment overrides, e.g. PROVKIT_IMAGE_REGISTRY.
	EnvPrefix = "PROVKIT"
)

//go:embed config_schema.cue
var configSchema []byte

// ErrConfigExists is returned by WriteDefault when the target file already exists.
var ErrConfigExists = errors.New("config file already exists")

// loadWithOptions resolves configuration from defaults, the CUE file and
// PROVKIT_* environment overrides, in increasing precedence.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	switch {
	case opts.ConfigFilePath != "":
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load project config").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the --config path is correct").
				WithSuggestion("Run 'provkit config init' to write a default provkit.cue").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	case fileExists(FileName):
		resolvedPath = FileName
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load project config").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'provkit config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate project config").
			WithResource(resolvedPath).
			WithSuggestion("Check PROVKIT_* environment overrides as well as the config file").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// setDefaults registers every key so that AutomaticEnv can override it and
// Unmarshal sees the full tree.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("container_engine", string(d.ContainerEngine))

	v.SetDefault("image.registry", d.Image.Registry)
	v.SetDefault("image.project", d.Image.Project)
	v.SetDefault("image.repository", d.Image.Repository)
	v.SetDefault("image.name", d.Image.Name)
	v.SetDefault("image.tag_prefix", d.Image.TagPrefix)
	v.SetDefault("image.insecure", d.Image.Insecure)

	v.SetDefault("build.context_dir", d.Build.ContextDir)
	v.SetDefault("build.builder_image", d.Build.BuilderImage)
	v.SetDefault("build.runner_image", d.Build.RunnerImage)
	v.SetDefault("build.manifest", d.Build.Manifest)
	v.SetDefault("build.app_files", d.Build.AppFiles)
	v.SetDefault("build.user_base", d.Build.UserBase)
	v.SetDefault("build.app_dir", d.Build.AppDir)
	v.SetDefault("build.launcher_binary", d.Build.LauncherBinary)
	v.SetDefault("build.platform", d.Build.Platform)
	v.SetDefault("build.source_date_epoch", d.Build.SourceDateEpoch)

	v.SetDefault("secrets.ssh_id", d.Secrets.SSHID)
	v.SetDefault("secrets.ssh_source", d.Secrets.SSHSource)
	v.SetDefault("secrets.host", d.Secrets.Host)
	v.SetDefault("secrets.known_hosts", d.Secrets.KnownHosts)
	v.SetDefault("secrets.host_fingerprints", d.Secrets.HostFingerprints)

	v.SetDefault("launch.server", d.Launch.Server)
	v.SetDefault("launch.app", d.Launch.App)
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// values into v. Omitted fields keep their defaults.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.DecodeMap(configSchema, data, "#Config", path)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force && fileExists(path) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a provkit.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// provkit project configuration\n\n")
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)

	sb.WriteString("\nimage: {\n")
	fmt.Fprintf(&sb, "\tregistry:   %q\n", cfg.Image.Registry)
	fmt.Fprintf(&sb, "\tproject:    %q\n", cfg.Image.Project)
	fmt.Fprintf(&sb, "\trepository: %q\n", cfg.Image.Repository)
	fmt.Fprintf(&sb, "\tname:       %q\n", cfg.Image.Name)
	fmt.Fprintf(&sb, "\ttag_prefix: %q\n", cfg.Image.TagPrefix)
	if cfg.Image.Insecure {
		sb.WriteString("\tinsecure:   true\n")
	}
	sb.WriteString("}\n")

	sb.WriteString("\nbuild: {\n")
	fmt.Fprintf(&sb, "\tcontext_dir:   %q\n", cfg.Build.ContextDir)
	fmt.Fprintf(&sb, "\tbuilder_image: %q\n", cfg.Build.BuilderImage)
	fmt.Fprintf(&sb, "\trunner_image:  %q\n", cfg.Build.RunnerImage)
	fmt.Fprintf(&sb, "\tmanifest:      %q\n", cfg.Build.Manifest)
	fmt.Fprintf(&sb, "\tapp_files:     [%s]\n", quoteList(cfg.Build.AppFiles))
	fmt.Fprintf(&sb, "\tuser_base:     %q\n", cfg.Build.UserBase)
	fmt.Fprintf(&sb, "\tapp_dir:       %q\n", cfg.Build.AppDir)
	if cfg.Build.LauncherBinary != "" {
		fmt.Fprintf(&sb, "\tlauncher_binary: %q\n", cfg.Build.LauncherBinary)
	}
	if cfg.Build.Platform != "" {
		fmt.Fprintf(&sb, "\tplatform: %q\n", cfg.Build.Platform)
	}
	if cfg.Build.SourceDateEpoch != 0 {
		fmt.Fprintf(&sb, "\tsource_date_epoch: %d\n", cfg.Build.SourceDateEpoch)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nsecrets: {\n")
	fmt.Fprintf(&sb, "\tssh_id: %q\n", cfg.Secrets.SSHID)
	if cfg.Secrets.SSHSource != "" {
		fmt.Fprintf(&sb, "\tssh_source: %q\n", cfg.Secrets.SSHSource)
	}
	fmt.Fprintf(&sb, "\thost:   %q\n", cfg.Secrets.Host)
	if cfg.Secrets.KnownHosts != "" {
		fmt.Fprintf(&sb, "\tknown_hosts: %q\n", cfg.Secrets.KnownHosts)
	}
	if len(cfg.Secrets.HostFingerprints) > 0 {
		fmt.Fprintf(&sb, "\thost_fingerprints: [%s]\n", quoteList(cfg.Secrets.HostFingerprints))
	}
	sb.WriteString("}\n")

	sb.WriteString("\nlaunch: {\n")
	fmt.Fprintf(&sb, "\tserver: %q\n", cfg.Launch.Server)
	fmt.Fprintf(&sb, "\tapp:    %q\n", cfg.Launch.App)
	sb.WriteString("}\n")

	return sb.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ", ")
}
