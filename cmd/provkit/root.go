// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for provkit.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/provkit/provkit/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the provkit command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provkit",
		Short: "Build, run and launch provider service images",
		Long: TitleStyle.Render("provkit") + SubtitleStyle.Render(" - Build, run and launch provider service images") + `

provkit packages a Python ASGI provider into a two-stage container image.
Private dependencies are fetched with a build-time SSH credential that
never reaches the final image.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Create a provkit.cue in your project directory (provkit config init)
  2. Preview the build with: provkit plan
  3. Build and push with: provkit build 5 --push

` + SubtitleStyle.Render("Examples:") + `
  provkit check             Verify private dependencies are reachable
  provkit build 5           Build the image tagged v0.0.5
  provkit run 5             Run the published v0.0.5 image locally
  provkit audit <image>     Scan an image for leaked credentials
  provkit config show       Show current configuration`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is ./provkit.cue)")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newPlanCommand(app),
		newCheckCommand(app),
		newRunCommand(app),
		newLaunchCommand(app),
		newAuditCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute builds the command tree with production dependencies and runs it.
// This is called by main.main().
func Execute() {
	rootCmd := NewRootCommand(NewApp(Dependencies{}))

	// fang overrides rootCmd.Version, so the version goes through fang.WithVersion.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
