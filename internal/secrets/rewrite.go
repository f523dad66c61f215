// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"strconv"
	"strings"
)

const (
	// KnownHostsSecretID is the secret mount id of the known-hosts record.
	KnownHostsSecretID = "known_hosts"
	// KnownHostsTarget is where the record is mounted during the install step.
	KnownHostsTarget = "/run/secrets/known_hosts"
)

type (
	// RewriteRule maps a URL prefix to another, as git's url.<To>.insteadOf.
	RewriteRule struct {
		From string
		To   string
	}

	// EnvVar is one NAME=VALUE pair. Order is preserved for reproducible output.
	EnvVar struct {
		Name  string
		Value string
	}
)

// RewriteFor returns the rule sending https fetches for host over SSH.
func RewriteFor(host string) RewriteRule {
	return RewriteRule{
		From: "https://" + host + "/",
		To:   "ssh://git@" + host + "/",
	}
}

// GitEnv expresses the rewrite and strict host checking as environment for a
// single process tree, using git's GIT_CONFIG_COUNT mechanism instead of
// writing any git config file.
func (r RewriteRule) GitEnv(knownHostsPath string) []EnvVar {
	return []EnvVar{
		{Name: "GIT_CONFIG_COUNT", Value: strconv.Itoa(1)},
		{Name: "GIT_CONFIG_KEY_0", Value: "url." + r.To + ".insteadOf"},
		{Name: "GIT_CONFIG_VALUE_0", Value: r.From},
		{
			Name:  "GIT_SSH_COMMAND",
			Value: "ssh -o UserKnownHostsFile=" + knownHostsPath + " -o StrictHostKeyChecking=yes",
		},
	}
}

// Apply rewrites url when it starts with the rule's From prefix.
func (r RewriteRule) Apply(url string) string {
	if rest, ok := strings.CutPrefix(url, r.From); ok {
		return r.To + rest
	}
	return url
}
