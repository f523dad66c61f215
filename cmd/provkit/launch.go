// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/provkit/provkit/internal/launch"

	"github.com/spf13/cobra"
)

func newLaunchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Start the provider server (image entrypoint)",
		Long: `Start the provider server. This is the entrypoint of the runner image.

PORT must be set to a port number. The server process replaces provkit and
inherits the environment unchanged, so the application reads API_KEY,
CLIENT_ID and CLIENT_SECRET itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			l := launch.New(cfg.Launch, app.logger("launch"), app.LaunchOptions...)
			if err := l.Launch(cmd.Context(), app.Environ()); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
}
