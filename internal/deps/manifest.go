// SPDX-License-Identifier: MPL-2.0

package deps

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/provkit/provkit/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
)

const (
	// FormatRequirements is a pip requirements file.
	FormatRequirements Format = "requirements"
	// FormatPyproject is a PEP 621 pyproject.toml.
	FormatPyproject Format = "pyproject"

	// NormalizedName is the file name of the normalized manifest in the build context.
	NormalizedName = "requirements.txt"
)

// ErrInvalidManifest is the sentinel wrapped by InvalidManifestError.
var ErrInvalidManifest = errors.New("invalid dependency manifest")

var namePattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

type (
	// Format is the manifest file format.
	Format string

	// Manifest is a parsed dependency manifest.
	Manifest struct {
		Path         string
		Format       Format
		Requirements []Requirement
	}

	// Requirement is one manifest entry.
	Requirement struct {
		// Raw is the requirement as written, without comments.
		Raw string
		// Name is the distribution name when it can be determined.
		Name string
		// VCS is set for git requirements.
		VCS *VCSRef
	}

	// VCSRef is a git requirement location.
	VCSRef struct {
		// URL is the repository URL without the git+ prefix, ref and fragment.
		URL string
		// Host is the repository host.
		Host string
		// Ref is the branch, tag or commit after '@', if any.
		Ref string
	}

	// InvalidManifestError locates a manifest problem.
	InvalidManifestError struct {
		Path   string
		Line   int
		Reason string
	}
)

func (e *InvalidManifestError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *InvalidManifestError) Unwrap() error { return ErrInvalidManifest }

// Load reads and parses the manifest at path. The format is chosen by file
// name: pyproject.toml, otherwise pip requirements syntax.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidManifestError{Path: path, Reason: err.Error()}
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return nil, &InvalidManifestError{Path: path, Reason: err.Error()}
	}
	return Parse(path, data)
}

// Parse parses manifest data; path selects the format and labels errors.
func Parse(path string, data []byte) (*Manifest, error) {
	var (
		reqs   []Requirement
		err    error
		format Format
	)
	if filepath.Base(path) == "pyproject.toml" {
		format = FormatPyproject
		reqs, err = parsePyproject(path, data)
	} else {
		format = FormatRequirements
		reqs, err = parseRequirements(path, data)
	}
	if err != nil {
		return nil, err
	}
	return &Manifest{Path: path, Format: format, Requirements: reqs}, nil
}

func parseRequirements(path string, data []byte) ([]Requirement, error) {
	var reqs []Requirement
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo, startLine := 0, 0
	var pending strings.Builder

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if pending.Len() == 0 {
			startLine = lineNo
		}
		if cont, ok := strings.CutSuffix(line, `\`); ok {
			pending.WriteString(cont)
			continue
		}
		pending.WriteString(line)
		logical := stripComment(pending.String())
		pending.Reset()

		if logical == "" {
			continue
		}
		req, err := parseRequirementLine(logical)
		if err != nil {
			return nil, &InvalidManifestError{Path: path, Line: startLine, Reason: err.Error()}
		}
		reqs = append(reqs, req)
	}
	if err := sc.Err(); err != nil {
		return nil, &InvalidManifestError{Path: path, Reason: err.Error()}
	}
	if pending.Len() > 0 {
		return nil, &InvalidManifestError{Path: path, Line: startLine, Reason: "line continuation at end of file"}
	}
	return reqs, nil
}

// stripComment removes a '#' comment that starts a line or follows whitespace.
// A '#' inside a URL fragment (#egg=) is kept.
func stripComment(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
			s = s[:i]
			break
		}
	}
	return strings.TrimSpace(s)
}

func parseRequirementLine(line string) (Requirement, error) {
	req := Requirement{Raw: line}

	if strings.HasPrefix(line, "-") {
		opt, rest, _ := strings.Cut(line, " ")
		switch opt {
		case "-r", "--requirement", "-c", "--constraint":
			return req, fmt.Errorf("%s includes another file; only a single manifest is shipped to the build", opt)
		case "-e", "--editable":
			rest = strings.TrimSpace(rest)
			if !strings.HasPrefix(rest, "git+") {
				return req, errors.New("editable requirements must be VCS URLs")
			}
			vcs, name, err := parseVCS(rest)
			if err != nil {
				return req, err
			}
			req.VCS, req.Name = vcs, name
		}
		return req, nil
	}

	if strings.HasPrefix(line, "git+") {
		vcs, name, err := parseVCS(line)
		if err != nil {
			return req, err
		}
		req.VCS, req.Name = vcs, name
		return req, nil
	}

	m := namePattern.FindStringSubmatch(line)
	if m == nil {
		return req, fmt.Errorf("cannot parse requirement %q", line)
	}
	req.Name = m[1]

	// PEP 508 direct reference: name [extras] @ url [; marker]
	if _, ref, ok := strings.Cut(line, "@"); ok && strings.Contains(ref, "://") {
		ref = strings.TrimSpace(ref)
		if marker := strings.Index(ref, ";"); marker >= 0 {
			ref = strings.TrimSpace(ref[:marker])
		}
		if strings.HasPrefix(ref, "git+") {
			vcs, _, err := parseVCS(ref)
			if err != nil {
				return req, err
			}
			req.VCS = vcs
		}
	}
	return req, nil
}

// parseVCS parses git+<scheme>://host/path[@ref][#egg=name].
func parseVCS(raw string) (*VCSRef, string, error) {
	s := strings.TrimPrefix(raw, "git+")
	s, fragment, _ := strings.Cut(s, "#")

	u, err := url.Parse(s)
	if err != nil {
		return nil, "", fmt.Errorf("invalid VCS URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "https", "ssh", "http":
	default:
		return nil, "", fmt.Errorf("unsupported VCS scheme %q in %q", u.Scheme, raw)
	}
	if u.Hostname() == "" {
		return nil, "", fmt.Errorf("VCS URL %q has no host", raw)
	}

	ref := ""
	if i := strings.LastIndex(u.Path, "@"); i >= 0 {
		ref = u.Path[i+1:]
		u.Path = u.Path[:i]
	}

	name := ""
	for kv := range strings.SplitSeq(fragment, "&") {
		if v, ok := strings.CutPrefix(kv, "egg="); ok {
			name = v
		}
	}
	return &VCSRef{URL: u.String(), Host: u.Hostname(), Ref: ref}, name, nil
}

type pyproject struct {
	Project *struct {
		Name         string   `toml:"name"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
}

func parsePyproject(path string, data []byte) ([]Requirement, error) {
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, _ := derr.Position()
			return nil, &InvalidManifestError{Path: path, Line: row, Reason: derr.Error()}
		}
		return nil, &InvalidManifestError{Path: path, Reason: err.Error()}
	}
	if doc.Project == nil {
		return nil, &InvalidManifestError{Path: path, Reason: "missing [project] table"}
	}

	reqs := make([]Requirement, 0, len(doc.Project.Dependencies))
	for i, dep := range doc.Project.Dependencies {
		dep = strings.TrimSpace(dep)
		if strings.HasPrefix(dep, "-") {
			return nil, &InvalidManifestError{Path: path, Reason: fmt.Sprintf("dependencies[%d]: pip options are not allowed", i)}
		}
		req, err := parseRequirementLine(dep)
		if err != nil {
			return nil, &InvalidManifestError{Path: path, Reason: fmt.Sprintf("dependencies[%d]: %v", i, err)}
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Normalized renders the manifest as a requirements file: one requirement
// per line, in manifest order, comments and continuations removed.
func (m *Manifest) Normalized() []byte {
	var buf bytes.Buffer
	for _, r := range m.Requirements {
		buf.WriteString(r.Raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Private returns the VCS requirements hosted on host.
func (m *Manifest) Private(host string) []Requirement {
	var out []Requirement
	for _, r := range m.Requirements {
		if r.PrivateTo(host) {
			out = append(out, r)
		}
	}
	return out
}

// PrivateTo reports whether the requirement is fetched from host over git.
func (r Requirement) PrivateTo(host string) bool {
	return r.VCS != nil && strings.EqualFold(r.VCS.Host, host)
}
