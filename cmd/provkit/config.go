// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/provkit/provkit/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `provkit config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage provkit configuration",
		Long: `Manage provkit configuration.

Configuration is read from ./` + config.FileName + ` (or --config) and may be
overridden with ` + config.EnvPrefix + `_<SECTION>_<KEY> environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			showConfig(app, cfg)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFilePath(app)
			if err := config.WriteDefault(path, force); err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(app.stdout, "Config file: %s\n", configFilePath(app))
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output resolved configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func configFilePath(app *App) string {
	if app.configPath != "" {
		return app.configPath
	}
	return config.FileName
}

func showConfig(app *App, cfg *config.Config) {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	out := app.stdout

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)

	path := configFilePath(app)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(out)

	section := func(name string, kv ...string) {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s:\n", keyStyle.Render(name))
		for i := 0; i+1 < len(kv); i += 2 {
			v := kv[i+1]
			if v == "" {
				v = SubtitleStyle.Render("(unset)")
			} else {
				v = valueStyle.Render(v)
			}
			fmt.Fprintf(out, "  %s: %s\n", kv[i], v)
		}
	}

	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("container_engine"), valueStyle.Render(string(cfg.ContainerEngine)))

	section("image",
		"registry", cfg.Image.Registry,
		"project", cfg.Image.Project,
		"repository", cfg.Image.Repository,
		"name", cfg.Image.Name,
		"tag_prefix", cfg.Image.TagPrefix,
		"insecure", fmt.Sprintf("%v", cfg.Image.Insecure),
	)
	section("build",
		"context_dir", cfg.Build.ContextDir,
		"builder_image", cfg.Build.BuilderImage,
		"runner_image", cfg.Build.RunnerImage,
		"manifest", cfg.Build.Manifest,
		"app_files", strings.Join(cfg.Build.AppFiles, ", "),
		"user_base", cfg.Build.UserBase,
		"app_dir", cfg.Build.AppDir,
		"launcher_binary", cfg.Build.LauncherBinary,
		"platform", cfg.Build.Platform,
		"source_date_epoch", fmt.Sprintf("%d", cfg.Build.SourceDateEpoch),
	)
	// Only locations are shown; the credential itself is never read here.
	section("secrets",
		"ssh_id", cfg.Secrets.SSHID,
		"ssh_source", cfg.Secrets.SSHSource,
		"host", cfg.Secrets.Host,
		"known_hosts", cfg.Secrets.KnownHosts,
		"host_fingerprints", strings.Join(cfg.Secrets.HostFingerprints, ", "),
	)
	section("launch",
		"server", cfg.Launch.Server,
		"app", cfg.Launch.App,
	)
}
