// SPDX-License-Identifier: MPL-2.0

package deps

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/provkit/provkit/internal/testutil"
)

const sampleRequirements = `# provider runtime
boson-sdk @ git+ssh://git@github.com/example/boson-sdk.git@v1.4.0
geodesic-api>=1.2  # pinned below 2
requests==2.32.3 \
    --hash=sha256:abc
git+https://github.com/example/cql-tools.git@main#egg=cql-tools
uvicorn[standard]~=0.30 ; python_version >= "3.10"

--index-url https://pypi.org/simple
`

func TestParse_Requirements(t *testing.T) {
	t.Parallel()

	m, err := Parse("requirements.txt", []byte(sampleRequirements))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.Format != FormatRequirements {
		t.Errorf("Format = %q", m.Format)
	}

	wantNames := []string{"boson-sdk", "geodesic-api", "requests", "cql-tools", "uvicorn", ""}
	if len(m.Requirements) != len(wantNames) {
		t.Fatalf("got %d requirements, want %d: %+v", len(m.Requirements), len(wantNames), m.Requirements)
	}
	for i, want := range wantNames {
		if m.Requirements[i].Name != want {
			t.Errorf("requirement %d name = %q, want %q", i, m.Requirements[i].Name, want)
		}
	}

	sdk := m.Requirements[0].VCS
	if sdk == nil || sdk.Host != "github.com" || sdk.Ref != "v1.4.0" || sdk.URL != "ssh://git@github.com/example/boson-sdk.git" {
		t.Errorf("unexpected VCS ref for boson-sdk: %+v", sdk)
	}
	cql := m.Requirements[3].VCS
	if cql == nil || cql.URL != "https://github.com/example/cql-tools.git" || cql.Ref != "main" {
		t.Errorf("unexpected VCS ref for cql-tools: %+v", cql)
	}
	if m.Requirements[2].Raw != "requests==2.32.3     --hash=sha256:abc" {
		t.Errorf("continuation not joined: %q", m.Requirements[2].Raw)
	}
	if m.Requirements[1].Raw != "geodesic-api>=1.2" {
		t.Errorf("comment not stripped: %q", m.Requirements[1].Raw)
	}

	if got := len(m.Private("github.com")); got != 2 {
		t.Errorf("Private(github.com) = %d, want 2", got)
	}
	if got := len(m.Private("gitlab.com")); got != 0 {
		t.Errorf("Private(gitlab.com) = %d, want 0", got)
	}

	norm := string(m.Normalized())
	if strings.Contains(norm, "#") && !strings.Contains(norm, "#egg=") {
		t.Errorf("normalized manifest kept comments:\n%s", norm)
	}
	if strings.Count(norm, "\n") != len(wantNames) {
		t.Errorf("normalized manifest should have one line per requirement:\n%s", norm)
	}
}

func TestParse_RequirementsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		wantLine int
	}{
		{"include", "requests\n-r base.txt\n", 2},
		{"constraint", "-c constraints.txt\n", 1},
		{"bad scheme", "git+file:///tmp/repo\n", 1},
		{"editable path", "-e ./local\n", 1},
		{"garbage", "requests\n!!!\n", 2},
		{"dangling continuation", "requests \\", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse("requirements.txt", []byte(tt.content))
			if !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("Parse() = %v, want ErrInvalidManifest", err)
			}
			var me *InvalidManifestError
			if !errors.As(err, &me) || me.Line != tt.wantLine {
				t.Errorf("error line = %v, want %d", err, tt.wantLine)
			}
		})
	}
}

func TestParse_Pyproject(t *testing.T) {
	t.Parallel()

	doc := `
[build-system]
requires = ["setuptools"]

[project]
name = "janes-provider"
dependencies = [
  "boson-sdk @ git+https://github.com/example/boson-sdk.git@v1.4.0",
  "requests>=2.31",
]
`
	m, err := Parse("pyproject.toml", []byte(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.Format != FormatPyproject || len(m.Requirements) != 2 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if !m.Requirements[0].PrivateTo("GitHub.com") {
		t.Error("host comparison should be case-insensitive")
	}

	if _, err := Parse("pyproject.toml", []byte("[tool.black]\nline-length = 100\n")); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("missing [project] should fail, got %v", err)
	}

	_, err = Parse("pyproject.toml", []byte("[project]\ndependencies = [\n"))
	var me *InvalidManifestError
	if !errors.As(err, &me) || me.Line == 0 {
		t.Errorf("syntax error should carry a line, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.MustWriteFile(t, dir, "requirements.txt", []byte("requests\n"))
	m, err := Load(path)
	if err != nil || len(m.Requirements) != 1 {
		t.Fatalf("Load() = %+v, %v", m, err)
	}

	if _, err := Load(filepath.Join(dir, "missing.txt")); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("Load(missing) = %v, want ErrInvalidManifest", err)
	}
}
