// SPDX-License-Identifier: MPL-2.0

package stage

import (
	"strings"
	"testing"
)

func TestInstructionRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Instruction
		want string
	}{
		{"workdir", Workdir{Path: "/app"}, "WORKDIR /app"},
		{"copy context", Copy{Sources: []string{"provider.py"}, Dest: "/app/provider.py"}, `COPY ["provider.py","/app/provider.py"]`},
		{"copy stage", Copy{From: Builder, Sources: []string{"/opt/provider"}, Dest: "/opt/provider"}, `COPY --from=builder ["/opt/provider","/opt/provider"]`},
		{"env", Env{Vars: []EnvVar{{Name: "A", Value: "x y"}, {Name: "B", Value: `q"`}}}, `ENV A="x y" B="q\""`},
		{"label", Label{Key: DigestLabel, Value: "sha256:00"}, `LABEL io.provkit.plan.digest="sha256:00"`},
		{"entrypoint", Entrypoint{Argv: []string{"/bin/a", "launch"}}, `ENTRYPOINT ["/bin/a","launch"]`},
		{"plain run", Run{Commands: []string{"echo hi", "true"}}, "RUN echo hi && \\\n    true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.in.Render()
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCopyRender_Empty(t *testing.T) {
	t.Parallel()

	if _, err := (Copy{Dest: "/app"}).Render(); err == nil {
		t.Error("COPY without sources should fail")
	}
}

func TestMountRender(t *testing.T) {
	t.Parallel()

	m := Mount{Type: MountSecret, ID: "known_hosts", Target: "/run/secrets/known_hosts", Required: true}
	if got := m.Render(); got != "--mount=type=secret,id=known_hosts,target=/run/secrets/known_hosts,required=true" {
		t.Errorf("Render() = %q", got)
	}
	if got := (Mount{Type: MountSSH, ID: "default"}).Render(); got != "--mount=type=ssh,id=default" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRunScript_QuotesEnv(t *testing.T) {
	t.Parallel()

	r := Run{
		Mounts:   []Mount{{Type: MountSSH, ID: "default", Required: true}},
		Env:      []EnvVar{{Name: "GIT_SSH_COMMAND", Value: "ssh -o StrictHostKeyChecking=yes"}},
		Commands: []string{"git ls-remote \"$REPO\""},
	}
	line, err := r.Render()
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(line, "export GIT_SSH_COMMAND='ssh -o StrictHostKeyChecking=yes'") {
		t.Errorf("env value not shell-quoted:\n%s", line)
	}
	if !strings.HasPrefix(line, "RUN --mount=type=ssh,id=default,required=true \\\n") {
		t.Errorf("mount flag should lead the step:\n%s", line)
	}
	if !r.HasSecretMount() || (Run{}).HasSecretMount() {
		t.Error("HasSecretMount() mismatch")
	}
}
