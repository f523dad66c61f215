// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// DefaultMaxFileSize bounds how much of one layer file is held in memory.
// Larger files are searched as a stream of windows of this size.
const DefaultMaxFileSize = 32 << 20

const (
	// KindNeedle is a match of supplied credential bytes.
	KindNeedle Kind = "credential"
	// KindPath is a file at a credential location.
	KindPath Kind = "path"
)

// ErrLeak is returned by Report.Err when the report has findings.
var ErrLeak = errors.New("image contains build credentials")

var forbiddenPaths = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.ssh/id_[^/]+$`),
	regexp.MustCompile(`(^|/)\.ssh/known_hosts$`),
	regexp.MustCompile(`^run/secrets/.+`),
}

var gitconfigPath = regexp.MustCompile(`(^|/)\.gitconfig$|^etc/gitconfig$`)

type (
	// Kind classifies a finding.
	Kind string

	// Needle is credential material that must not appear in the image.
	Needle struct {
		Name  string
		Value []byte
	}

	// Finding is one leak.
	Finding struct {
		Kind Kind
		// Location is where it was found, e.g. "layer 2: root/.ssh/id_ed25519" or "config env".
		Location string
		// Detail names the needle or the rule, never the secret itself.
		Detail string
	}

	// Report lists the findings for one image.
	Report struct {
		Image    string
		Layers   int
		Findings []Finding
	}

	// Scanner searches images for credentials.
	Scanner struct {
		needles     []Needle
		maxFileSize int64
		logger      *log.Logger
	}
)

// NewScanner creates a Scanner. Empty needles are ignored.
func NewScanner(logger *log.Logger, needles ...Needle) *Scanner {
	s := &Scanner{maxFileSize: DefaultMaxFileSize, logger: logger}
	for _, n := range needles {
		if len(bytes.TrimSpace(n.Value)) > 0 {
			s.needles = append(s.needles, n)
		}
	}
	return s
}

// NeedlesFromFile turns a credential file into needles: the whole file, plus
// each non-comment line for line-oriented files such as known_hosts.
func NeedlesFromFile(p string) ([]Needle, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	needles := []Needle{{Name: path.Base(p), Value: data}}
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) < 16 || line[0] == '#' || bytes.HasPrefix(line, []byte("-----")) {
			continue
		}
		needles = append(needles, Needle{Name: fmt.Sprintf("%s:%d", path.Base(p), n), Value: bytes.Clone(line)})
	}
	return needles, sc.Err()
}

// Clean reports whether nothing was found.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

// Err returns ErrLeak for a report with findings.
func (r *Report) Err() error {
	if r.Clean() {
		return nil
	}
	return fmt.Errorf("%w: %d finding(s) in %s", ErrLeak, len(r.Findings), r.Image)
}

// Scan inspects img. name labels the report.
func (s *Scanner) Scan(name string, img v1.Image) (*Report, error) {
	rep := &Report{Image: name}

	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("read image config: %w", err)
	}
	for _, env := range cf.Config.Env {
		s.matchText(rep, "config env", env)
		if key, _, _ := strings.Cut(env, "="); strings.HasPrefix(key, "GIT_CONFIG_") || key == "GIT_SSH_COMMAND" {
			rep.add(KindPath, "config env", key+" persisted into the image")
		}
	}
	for k, v := range cf.Config.Labels {
		s.matchText(rep, "config label "+k, k+"="+v)
	}
	s.matchText(rep, "config entrypoint", strings.Join(cf.Config.Entrypoint, " "))
	s.matchText(rep, "config cmd", strings.Join(cf.Config.Cmd, " "))
	for i, h := range cf.History {
		s.matchText(rep, fmt.Sprintf("history %d", i), h.CreatedBy)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	rep.Layers = len(layers)
	for i, l := range layers {
		if err := s.scanLayer(rep, i, l); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("image scanned", "image", name, "layers", len(layers), "findings", len(rep.Findings))
	return rep, nil
}

func (s *Scanner) scanLayer(rep *Report, idx int, l v1.Layer) error {
	rc, err := l.Uncompressed()
	if err != nil {
		return fmt.Errorf("open layer %d: %w", idx, err)
	}
	defer func() { _ = rc.Close() }() // Read-only stream; close error non-critical

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read layer %d: %w", idx, err)
		}
		name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if strings.HasPrefix(path.Base(name), ".wh.") {
			continue
		}
		loc := fmt.Sprintf("layer %d: %s", idx, name)
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		for _, re := range forbiddenPaths {
			if re.MatchString(name) {
				rep.add(KindPath, loc, "credential location "+re.String())
			}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if hdr.Size > s.maxFileSize {
			s.logger.Debug("streaming large file", "location", loc, "size", hdr.Size)
			if err := s.matchStream(rep, loc, tr); err != nil {
				return fmt.Errorf("read %s: %w", loc, err)
			}
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read %s: %w", loc, err)
		}
		if gitconfigPath.MatchString(name) && bytes.Contains(bytes.ToLower(data), []byte("insteadof")) {
			rep.add(KindPath, loc, "git URL rewrite persisted")
		}
		s.match(rep, loc, data)
	}
}

func (s *Scanner) matchText(rep *Report, loc, text string) {
	if text != "" {
		s.match(rep, loc, []byte(text))
	}
}

func (s *Scanner) match(rep *Report, loc string, data []byte) {
	for _, n := range s.needles {
		if bytes.Contains(data, n.Value) {
			rep.add(KindNeedle, loc, n.Name)
		}
	}
}

// matchStream searches r window by window. Each window is prefixed with the
// tail of the previous one, one byte shorter than the longest needle, so a
// needle spanning a window boundary is still found. A needle is reported at
// most once per location.
func (s *Scanner) matchStream(rep *Report, loc string, r io.Reader) error {
	longest := 0
	for _, n := range s.needles {
		longest = max(longest, len(n.Value))
	}
	if longest == 0 {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	carry := longest - 1
	buf := make([]byte, carry+int(s.maxFileSize))
	found := make([]bool, len(s.needles))
	kept := 0
	for {
		n, err := io.ReadFull(r, buf[kept:])
		window := buf[:kept+n]
		for i, nd := range s.needles {
			if !found[i] && bytes.Contains(window, nd.Value) {
				found[i] = true
				rep.add(KindNeedle, loc, nd.Name)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		kept = min(carry, len(window))
		copy(buf, window[len(window)-kept:])
	}
}

func (r *Report) add(kind Kind, loc, detail string) {
	r.Findings = append(r.Findings, Finding{Kind: kind, Location: loc, Detail: detail})
}
