// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/provkit/provkit/internal/deps"
	"github.com/provkit/provkit/internal/provision"

	"github.com/spf13/cobra"
)

func newCheckCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify private dependencies are reachable with the build credential",
		Long: `Verify private dependencies are reachable with the build credential.

Each private VCS requirement is contacted over SSH with the configured
deploy key and host trust, and its pinned ref must exist. Nothing is built.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(cmd, err)
			}

			m, err := deps.Load(filepath.Join(cfg.Build.ContextDir, cfg.Build.Manifest))
			if err != nil {
				return app.fail(cmd, err)
			}
			private := m.Private(cfg.Secrets.Host)
			if len(private) == 0 {
				fmt.Fprintf(app.stdout, "%s No private dependencies on %s\n", SuccessStyle.Render("✓"), cfg.Secrets.Host)
				return nil
			}

			h := provision.OptionsFromConfig(cfg).Handle
			creds, err := app.credentialProvisioner(cfg).Provision(ctx, h, cfg.Secrets.Host)
			if err != nil {
				return app.fail(cmd, err)
			}
			defer func() { _ = creds.Close() }()

			v := deps.NewVerifier(app.logger("check"), app.RefLister)
			if err := v.Verify(ctx, m, creds); err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintf(app.stdout, "%s %d private dependencies reachable\n", SuccessStyle.Render("✓"), len(private))
			return nil
		},
	}
}
