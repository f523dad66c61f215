// SPDX-License-Identifier: MPL-2.0

package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	// MountSSH forwards an SSH agent or key to one RUN step.
	MountSSH MountType = "ssh"
	// MountSecret exposes a secret file to one RUN step.
	MountSecret MountType = "secret"
)

type (
	// MountType is a BuildKit RUN --mount type.
	MountType string

	// Mount is a RUN-step-scoped mount. It exists only while that step runs.
	Mount struct {
		Type     MountType
		ID       string
		Target   string
		Required bool
	}

	// EnvVar is a variable exported for the duration of a RUN script.
	EnvVar struct {
		Name  string
		Value string
	}

	// Instruction is one Containerfile line.
	Instruction interface {
		Render() (string, error)
	}

	// Workdir sets the working directory.
	Workdir struct{ Path string }

	// Copy copies files from the build context or, when From is set, from
	// an earlier stage.
	Copy struct {
		From    Name
		Sources []string
		Dest    string
	}

	// Run executes Commands, joined with &&, after exporting Env.
	Run struct {
		Mounts   []Mount
		Env      []EnvVar
		Commands []string
	}

	// Env sets image environment variables, in order.
	Env struct{ Vars []EnvVar }

	// Label sets one image label.
	Label struct{ Key, Value string }

	// Entrypoint sets the exec-form entrypoint.
	Entrypoint struct{ Argv []string }
)

// Render returns the --mount flag.
func (m Mount) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--mount=type=%s,id=%s", m.Type, m.ID)
	if m.Target != "" {
		sb.WriteString(",target=" + m.Target)
	}
	if m.Required {
		sb.WriteString(",required=true")
	}
	return sb.String()
}

// Render implements Instruction.
func (w Workdir) Render() (string, error) {
	return "WORKDIR " + w.Path, nil
}

// Render implements Instruction.
func (c Copy) Render() (string, error) {
	if len(c.Sources) == 0 || c.Dest == "" {
		return "", fmt.Errorf("COPY needs sources and a destination")
	}
	args := append(append([]string{}, c.Sources...), c.Dest)
	line, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	if c.From != "" {
		return fmt.Sprintf("COPY --from=%s %s", c.From, line), nil
	}
	return "COPY " + string(line), nil
}

// Script returns the shell text executed by the step.
func (r Run) Script() (string, error) {
	var parts []string
	if len(r.Env) > 0 {
		assigns := make([]string, 0, len(r.Env))
		for _, e := range r.Env {
			q, err := syntax.Quote(e.Value, syntax.LangPOSIX)
			if err != nil {
				return "", fmt.Errorf("quote %s: %w", e.Name, err)
			}
			assigns = append(assigns, e.Name+"="+q)
		}
		parts = append(parts, "export "+strings.Join(assigns, " "))
	}
	parts = append(parts, r.Commands...)
	return strings.Join(parts, " && \\\n    "), nil
}

// Render implements Instruction.
func (r Run) Render() (string, error) {
	script, err := r.Script()
	if err != nil {
		return "", err
	}
	if err := checkShell(script); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("RUN")
	for _, m := range r.Mounts {
		sb.WriteString(" " + m.Render() + " \\\n   ")
	}
	sb.WriteString(" " + script)
	return sb.String(), nil
}

// HasSecretMount reports whether the step mounts any credential.
func (r Run) HasSecretMount() bool {
	return len(r.Mounts) > 0
}

// Render implements Instruction.
func (e Env) Render() (string, error) {
	assigns := make([]string, 0, len(e.Vars))
	for _, v := range e.Vars {
		line, err := json.Marshal(v.Value)
		if err != nil {
			return "", err
		}
		assigns = append(assigns, v.Name+"="+string(line))
	}
	return "ENV " + strings.Join(assigns, " "), nil
}

// Render implements Instruction.
func (l Label) Render() (string, error) {
	v, err := json.Marshal(l.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LABEL %s=%s", l.Key, v), nil
}

// Render implements Instruction.
func (e Entrypoint) Render() (string, error) {
	line, err := json.Marshal(e.Argv)
	if err != nil {
		return "", err
	}
	return "ENTRYPOINT " + string(line), nil
}

// checkShell parses script as POSIX shell so malformed steps fail at plan time.
func checkShell(script string) error {
	_, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(script), "RUN")
	if err != nil {
		return fmt.Errorf("RUN script is not valid shell: %w", err)
	}
	return nil
}
