// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AgentSocketEnv is the variable naming the SSH agent socket.
const AgentSocketEnv = "SSH_AUTH_SOCK"

var (
	// ErrSecretUnavailable is returned when the SSH handle has no usable source.
	ErrSecretUnavailable = errors.New("build secret unavailable")
	// ErrInvalidHandle is returned for a handle without an id.
	ErrInvalidHandle = errors.New("invalid ssh handle")
)

type (
	// Handle names the build-time SSH credential. ID is the mount id RUN steps
	// reference. Source is a comma-separated list of agent sockets or private
	// key files; empty means the agent at $SSH_AUTH_SOCK.
	Handle struct {
		ID     string
		Source string
	}

	// SecretUnavailableError reports why a handle cannot be provided.
	SecretUnavailableError struct {
		ID     string
		Path   string
		Reason string
	}
)

// Sources returns the handle's source paths with "~/" expanded.
func (h Handle) Sources() []string {
	if strings.TrimSpace(h.Source) == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(h.Source, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, expandHome(part))
	}
	return out
}

// UsesAgent reports whether the handle forwards the default agent.
func (h Handle) UsesAgent() bool {
	return len(h.Sources()) == 0
}

// Check verifies that every source of the handle exists. With no explicit
// source the agent socket named by lookup(SSH_AUTH_SOCK) must be a socket.
func (h Handle) Check(lookup func(string) (string, bool)) error {
	if strings.TrimSpace(h.ID) == "" {
		return ErrInvalidHandle
	}

	if h.UsesAgent() {
		sock, ok := lookup(AgentSocketEnv)
		if !ok || sock == "" {
			return &SecretUnavailableError{ID: h.ID, Reason: AgentSocketEnv + " is not set"}
		}
		info, err := os.Stat(sock)
		if err != nil {
			return &SecretUnavailableError{ID: h.ID, Path: sock, Reason: err.Error()}
		}
		if info.Mode()&os.ModeSocket == 0 {
			return &SecretUnavailableError{ID: h.ID, Path: sock, Reason: "not a socket"}
		}
		return nil
	}

	for _, src := range h.Sources() {
		info, err := os.Stat(src)
		if err != nil {
			return &SecretUnavailableError{ID: h.ID, Path: src, Reason: err.Error()}
		}
		if info.IsDir() {
			return &SecretUnavailableError{ID: h.ID, Path: src, Reason: "is a directory"}
		}
	}
	return nil
}

func (e *SecretUnavailableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("ssh handle %q: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("ssh handle %q: %s: %s", e.ID, e.Path, e.Reason)
}

func (e *SecretUnavailableError) Unwrap() error { return ErrSecretUnavailable }

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
