// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/provkit/provkit/internal/invoke"

	"github.com/spf13/cobra"
)

type runFlags struct {
	envFile           string
	skipRegistryCheck bool
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <suffix>",
		Short: "Run a published provider image locally",
		Long: `Run a published provider image locally.

The suffix completes the configured tag template, so "5" runs v0.0.5.
API_KEY, CLIENT_ID and CLIENT_SECRET are forwarded from the calling
environment. Host port 8000 maps to container port 8000 and PORT is always
8000. The command exits with the container's exit code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd, app, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "dotenv file with secrets (suffix with ? to make optional); the shell wins")
	cmd.Flags().BoolVar(&flags.skipRegistryCheck, "skip-registry-check", false, "start the container without checking the tag exists")
	return cmd
}

func runImage(cmd *cobra.Command, app *App, suffix string, flags runFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(cmd, err)
	}

	req := invoke.Request{
		Suffix:            suffix,
		Lookup:            app.LookupEnv,
		SkipRegistryCheck: flags.skipRegistryCheck,
		Stdin:             os.Stdin,
		Stdout:            app.stdout,
		Stderr:            app.stderr,
	}
	if flags.envFile != "" {
		lookup, loadErr := invoke.LoadEnvFile(flags.envFile, app.LookupEnv)
		if loadErr != nil {
			return app.fail(cmd, loadErr)
		}
		req.Lookup = lookup
	}

	engine, err := app.Engine(cfg.ContainerEngine)
	if err != nil {
		return app.fail(cmd, err)
	}

	inv := invoke.New(invoke.CoordinateFromConfig(cfg.Image), engine, app.Checker, app.logger("run"), app.InvokeOptions...)
	code, err := inv.Run(ctx, req)
	if err != nil {
		return app.fail(cmd, err)
	}
	if code.IsEngineFailure() {
		fmt.Fprintf(app.stderr, "%s %s exited %s before the provider started; check the image and engine output above\n",
			WarningStyle.Render("!"), engine.Name(), code)
	}
	if !code.IsSuccess() {
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		return &ExitError{Code: code}
	}
	return nil
}
