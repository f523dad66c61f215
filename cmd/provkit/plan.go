// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/provkit/provkit/internal/provision"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func newPlanCommand(app *App) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the Containerfile a build would use",
		Long: `Print the rendered Containerfile and its plan digest.

The plan is computed from the manifest and application files alone; no
credential is provisioned and no container engine is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			// Preview never reaches the engine or the provisioner.
			b := provision.NewBuilder(nil, nil, provision.OptionsFromConfig(cfg), app.logger("plan"))
			preview, err := b.Preview()
			if err != nil {
				return app.fail(cmd, err)
			}

			if markdown {
				out, renderErr := glamour.Render(preview.Plan.Markdown(), "dark")
				if renderErr != nil {
					return app.fail(cmd, renderErr)
				}
				fmt.Fprint(app.stdout, out)
				return nil
			}

			data, err := preview.Plan.Render()
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, string(data))
			fmt.Fprintf(app.stderr, "%s %s\n", SubtitleStyle.Render("plan digest:"), DigestStyle.Render(preview.Digest))
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render a stage summary instead of the Containerfile")
	return cmd
}
