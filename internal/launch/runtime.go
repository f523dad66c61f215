// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"errors"
	"fmt"

	"github.com/provkit/provkit/pkg/types"
)

const (
	// PortEnv is the variable the server port is read from.
	PortEnv = "PORT"
	// BindHost makes the server listen on all interfaces.
	BindHost = "0.0.0.0"
	// LogLevel is the server's most verbose level.
	LogLevel = "trace"
	// APIKeyEnv, ClientIDEnv and ClientSecretEnv are the provider's credentials.
	// The launcher only reports whether they are set.
	APIKeyEnv       = "API_KEY"
	ClientIDEnv     = "CLIENT_ID"
	ClientSecretEnv = "CLIENT_SECRET"
)

// ErrPortMissing is returned when PORT is not set.
var ErrPortMissing = errors.New("PORT is not set")

// SecretNames lists the provider credential variables in a fixed order.
var SecretNames = []string{APIKeyEnv, ClientIDEnv, ClientSecretEnv}

// RuntimeConfig is the container environment the launcher depends on.
type RuntimeConfig struct {
	Port types.ListenPort
	// Present reports which of SecretNames were set, even if empty.
	Present map[string]bool
}

// LoadRuntimeConfig reads PORT and the presence of the provider credentials.
// PORT must be a decimal integer in 1..65535. Credential values are never
// inspected.
func LoadRuntimeConfig(lookup func(string) (string, bool)) (*RuntimeConfig, error) {
	raw, ok := lookup(PortEnv)
	if !ok || raw == "" {
		return nil, ErrPortMissing
	}
	port, err := types.ParseListenPort(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PortEnv, err)
	}

	present := make(map[string]bool, len(SecretNames))
	for _, name := range SecretNames {
		_, present[name] = lookup(name)
	}
	return &RuntimeConfig{Port: port, Present: present}, nil
}

// Missing returns the credential names that were not set.
func (c *RuntimeConfig) Missing() []string {
	var missing []string
	for _, name := range SecretNames {
		if !c.Present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
