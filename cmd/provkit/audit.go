// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/provkit/provkit/internal/audit"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"
)

type auditFlags struct {
	tarball     string
	needleFiles []string
	insecure    bool
}

func newAuditCommand(app *App) *cobra.Command {
	var flags auditFlags
	cmd := &cobra.Command{
		Use:   "audit [image]",
		Short: "Scan an image for leaked build credentials",
		Long: `Scan an image for leaked build credentials.

Every layer, the image config and its history are searched for the bytes of
the given needle files (deploy key, known_hosts) and for files that must
never ship: SSH keys, known_hosts, /run/secrets and git URL rewrites.
Exits 1 when anything is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref string
			if len(args) == 1 {
				ref = args[0]
			}
			return runAudit(cmd, app, ref, flags)
		},
	}

	cmd.Flags().StringVar(&flags.tarball, "tarball", "", "read the image from a docker save archive")
	cmd.Flags().StringSliceVar(&flags.needleFiles, "needle-file", nil, "file whose contents must not appear in the image (repeatable)")
	cmd.Flags().BoolVar(&flags.insecure, "insecure", false, "allow plain HTTP registries")
	return cmd
}

func runAudit(cmd *cobra.Command, app *App, ref string, flags auditFlags) error {
	if (ref == "") == (flags.tarball == "") {
		return app.fail(cmd, errors.New("give exactly one of an image reference or --tarball"))
	}

	var needles []audit.Needle
	for _, f := range flags.needleFiles {
		n, err := audit.NeedlesFromFile(f)
		if err != nil {
			return app.fail(cmd, err)
		}
		needles = append(needles, n...)
	}

	var (
		img  v1.Image
		name string
		err  error
	)
	if flags.tarball != "" {
		name = flags.tarball
		img, err = audit.FromTarball(flags.tarball, "")
	} else {
		name = ref
		img, err = audit.FromRemote(cmd.Context(), ref, flags.insecure)
	}
	if err != nil {
		return app.fail(cmd, err)
	}

	rep, err := audit.NewScanner(app.logger("audit"), needles...).Scan(name, img)
	if err != nil {
		return app.fail(cmd, err)
	}

	if rep.Clean() {
		fmt.Fprintf(app.stdout, "%s %s: %d layers, no findings\n", SuccessStyle.Render("✓"), name, rep.Layers)
		return nil
	}
	for _, f := range rep.Findings {
		fmt.Fprintf(app.stdout, "%s %s %s %s\n", ErrorStyle.Render("✗"), WarningStyle.Render(string(f.Kind)), CmdStyle.Render(f.Location), f.Detail)
	}
	return app.fail(cmd, rep.Err())
}
