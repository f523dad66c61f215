// SPDX-License-Identifier: MPL-2.0

package deps

import (
	"github.com/provkit/provkit/internal/secrets"
	"github.com/provkit/provkit/internal/stage"
)

// InstallOptions configures the builder stage install step.
type InstallOptions struct {
	// UserBase is the PYTHONUSERBASE prefix the install writes into.
	UserBase string
	// Python is the interpreter command, "python" by default.
	Python string
}

// InstallStep returns the only builder instruction that sees build secrets.
// pip is upgraded first, then the normalized manifest is installed into the
// user base. Both mounts are required, so the step fails before fetching
// anything when a secret is missing.
func InstallStep(creds *secrets.Credentials, opts InstallOptions) stage.Run {
	python := opts.Python
	if python == "" {
		python = "python"
	}

	env := make([]stage.EnvVar, 0, 5)
	for _, e := range creds.Rewrite.GitEnv(secrets.KnownHostsTarget) {
		env = append(env, stage.EnvVar{Name: e.Name, Value: e.Value})
	}
	env = append(env, stage.EnvVar{Name: "PYTHONUSERBASE", Value: opts.UserBase})

	return stage.Run{
		Mounts: []stage.Mount{
			{Type: stage.MountSSH, ID: creds.Handle.ID, Required: true},
			{Type: stage.MountSecret, ID: secrets.KnownHostsSecretID, Target: secrets.KnownHostsTarget, Required: true},
		},
		Env: env,
		Commands: []string{
			python + " -m pip install --no-cache-dir --upgrade pip",
			python + " -m pip install --user --no-cache-dir --no-warn-script-location -r " + NormalizedName,
		},
	}
}
