// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/provkit/provkit/internal/invoke"
	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/internal/provision"

	"github.com/spf13/cobra"
)

var errNoTag = errors.New("an image tag suffix or --tag is required")

type buildFlags struct {
	tag         string
	push        bool
	noCache     bool
	keepContext bool
}

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build [suffix]",
		Short: "Build the provider image",
		Long: `Build the provider image in two stages.

The builder stage installs dependencies with the configured SSH credential
mounted for the install step only. The runner stage receives the installed
packages, the application files and the launcher.

The suffix completes the configured tag template, so "5" builds v0.0.5.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var suffix string
			if len(args) == 1 {
				suffix = args[0]
			}
			return runBuild(cmd, app, suffix, flags)
		},
	}

	cmd.Flags().StringVar(&flags.tag, "tag", "", "full image reference (overrides the suffix)")
	cmd.Flags().BoolVar(&flags.push, "push", false, "push the image after a successful build")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "do not use the engine build cache")
	cmd.Flags().BoolVar(&flags.keepContext, "keep-context", false, "keep the temporary build context for inspection")
	return cmd
}

func runBuild(cmd *cobra.Command, app *App, suffix string, flags buildFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(cmd, err)
	}

	tag := flags.tag
	if tag == "" {
		if suffix == "" {
			return app.fail(cmd, errNoTag)
		}
		ref, resolveErr := invoke.CoordinateFromConfig(cfg.Image).Resolve(suffix)
		if resolveErr != nil {
			return app.fail(cmd, resolveErr)
		}
		tag = ref.String()
	}

	engine, err := app.Engine(cfg.ContainerEngine)
	if err != nil {
		return app.fail(cmd, err)
	}

	b := provision.NewBuilder(engine, app.credentialProvisioner(cfg), provision.OptionsFromConfig(cfg), app.logger("build"))
	res, err := b.Build(ctx, provision.Request{
		Tag:         tag,
		Push:        flags.push,
		NoCache:     flags.noCache,
		KeepContext: flags.keepContext,
		Stdout:      app.stderr,
		Stderr:      app.stderr,
	})
	if err != nil {
		return app.failAs(cmd, err, issue.BuildFailedId)
	}

	fmt.Fprintf(app.stdout, "%s Built %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(res.Tag))
	fmt.Fprintf(app.stdout, "  %s %s\n", SubtitleStyle.Render("plan digest:"), DigestStyle.Render(res.Digest))
	if res.Pushed {
		fmt.Fprintf(app.stdout, "%s Pushed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(res.Tag))
	}
	if res.ContextDir != "" {
		fmt.Fprintf(app.stdout, "  %s %s\n", SubtitleStyle.Render("build context:"), res.ContextDir)
	}
	return nil
}
