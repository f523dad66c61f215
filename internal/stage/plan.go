// SPDX-License-Identifier: MPL-2.0

package stage

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

const (
	// Builder installs dependencies and may use build secrets.
	Builder Name = "builder"
	// Runner is the final image. It never sees build secrets.
	Runner Name = "runner"

	// DigestLabel carries the plan digest on the runner image.
	DigestLabel = "io.provkit.plan.digest"
	// DefaultLauncherDest is where the launcher binary lands in the runner.
	DefaultLauncherDest = "/usr/local/bin/provkit"

	builderWorkdir = "/build"
)

// ErrInvalidPlan is the sentinel wrapped by InvalidPlanError.
var ErrInvalidPlan = errors.New("invalid build plan")

type (
	// Name identifies a stage.
	Name string

	// Stage is one FROM block.
	Stage struct {
		Name         Name
		Base         string
		Instructions []Instruction
		// Produces lists the absolute paths this stage creates for promotion.
		Produces []string
	}

	// Artifact is a path inside a stage, or in the build context when Stage is empty.
	Artifact struct {
		Stage Name
		Path  string
	}

	// Promotion copies an Artifact into the runner stage at Dest.
	Promotion struct {
		Artifact Artifact
		Dest     string
	}

	// Input is a build context file that influences the image.
	Input struct {
		Name string
		Hash string
	}

	// PlanSpec holds everything NewPlan needs. Paths in Manifest, AppFiles and
	// Launcher are relative to the build context.
	PlanSpec struct {
		BuilderImage string
		RunnerImage  string
		Manifest     string
		Install      Run
		UserBase     string
		AppDir       string
		AppFiles     []string
		Launcher     string
		LauncherDest string
		Entrypoint   []string
	}

	// Plan is the validated two-stage build.
	Plan struct {
		Stages     []Stage
		Promotions []Promotion
		digest     string
	}

	// InvalidPlanError describes a broken partition.
	InvalidPlanError struct {
		Reason string
	}
)

func (e *InvalidPlanError) Error() string { return "invalid build plan: " + e.Reason }

func (e *InvalidPlanError) Unwrap() error { return ErrInvalidPlan }

func invalid(format string, args ...any) error {
	return &InvalidPlanError{Reason: fmt.Sprintf(format, args...)}
}

// NewPlan builds and validates the builder and runner stages.
func NewPlan(spec PlanSpec) (*Plan, error) {
	if spec.LauncherDest == "" {
		spec.LauncherDest = DefaultLauncherDest
	}
	if len(spec.Entrypoint) == 0 {
		spec.Entrypoint = []string{spec.LauncherDest, "launch"}
	}
	userBase := path.Clean(spec.UserBase)
	appDir := path.Clean(spec.AppDir)

	builder := Stage{
		Name: Builder,
		Base: spec.BuilderImage,
		Instructions: []Instruction{
			Workdir{Path: builderWorkdir},
			Copy{Sources: []string{spec.Manifest}, Dest: path.Join(builderWorkdir, path.Base(spec.Manifest))},
			spec.Install,
		},
		Produces: []string{userBase},
	}

	promotions := []Promotion{{Artifact: Artifact{Stage: Builder, Path: userBase}, Dest: userBase}}
	for _, f := range spec.AppFiles {
		promotions = append(promotions, Promotion{Artifact: Artifact{Path: f}, Dest: path.Join(appDir, f)})
	}
	if spec.Launcher != "" {
		promotions = append(promotions, Promotion{Artifact: Artifact{Path: spec.Launcher}, Dest: spec.LauncherDest})
	}

	runner := Stage{Name: Runner, Base: spec.RunnerImage}
	for _, p := range promotions {
		runner.Instructions = append(runner.Instructions, Copy{
			From:    p.Artifact.Stage,
			Sources: []string{p.Artifact.Path},
			Dest:    p.Dest,
		})
	}
	runner.Instructions = append(runner.Instructions,
		Workdir{Path: appDir},
		Env{Vars: []EnvVar{
			{Name: "PYTHONUSERBASE", Value: userBase},
			{Name: "PATH", Value: path.Join(userBase, "bin") + ":$PATH"},
			{Name: "PYTHONUNBUFFERED", Value: "1"},
		}},
		Entrypoint{Argv: spec.Entrypoint},
	)

	p := &Plan{Stages: []Stage{builder, runner}, Promotions: promotions}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Stage returns the named stage, or nil.
func (p *Plan) Stage(name Name) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// Validate checks the partition: one builder then one runner, each on its own
// external base, secrets only in the builder, runner copies that exactly match
// the promotion set, and no digest label other than the one Seal adds.
func (p *Plan) Validate() error {
	if len(p.Stages) != 2 || p.Stages[0].Name != Builder || p.Stages[1].Name != Runner {
		return invalid("expected stages [builder runner]")
	}
	builder, runner := &p.Stages[0], &p.Stages[1]
	for _, s := range p.Stages {
		if strings.TrimSpace(s.Base) == "" {
			return invalid("stage %s has no base image", s.Name)
		}
		// Stage names are case-insensitive in FROM.
		if base := Name(strings.ToLower(strings.TrimSpace(s.Base))); base == Builder || base == Runner {
			return invalid("stage %s is based on stage %s and would inherit its layers", s.Name, base)
		}
		for _, in := range s.Instructions {
			if l, ok := in.(Label); ok && l.Key == DigestLabel {
				return invalid("stage %s sets %s; only Seal may", s.Name, DigestLabel)
			}
		}
	}

	for _, in := range builder.Instructions {
		if c, ok := in.(Copy); ok && c.From != "" {
			return invalid("builder copies from stage %s", c.From)
		}
		if _, err := in.Render(); err != nil {
			return invalid("builder: %v", err)
		}
	}

	for _, pr := range p.Promotions {
		if pr.Artifact.Stage == Runner {
			return invalid("promotion %s sources the runner stage", pr.Artifact.Path)
		}
		if pr.Artifact.Stage == Builder && !produces(builder, pr.Artifact.Path) {
			return invalid("promotion %s is not produced by the builder", pr.Artifact.Path)
		}
		if !path.IsAbs(pr.Dest) {
			return invalid("promotion destination %q is not absolute", pr.Dest)
		}
	}

	copied := make([]Promotion, 0, len(p.Promotions))
	for _, in := range runner.Instructions {
		switch v := in.(type) {
		case Run:
			if v.HasSecretMount() {
				return invalid("runner stage mounts a secret")
			}
		case Copy:
			for _, src := range v.Sources {
				pr := Promotion{Artifact: Artifact{Stage: v.From, Path: src}, Dest: v.Dest}
				if !slices.Contains(p.Promotions, pr) {
					return invalid("runner copies %s:%s which is not in the promotion set", v.From, src)
				}
				copied = append(copied, pr)
			}
		}
		if _, err := in.Render(); err != nil {
			return invalid("runner: %v", err)
		}
	}
	for _, pr := range p.Promotions {
		if !slices.Contains(copied, pr) {
			return invalid("promotion %s is never copied into the runner", pr.Artifact.Path)
		}
	}
	return nil
}

func produces(s *Stage, p string) bool {
	p = path.Clean(p)
	for _, prod := range s.Produces {
		if p == prod || strings.HasPrefix(p, strings.TrimSuffix(prod, "/")+"/") {
			return true
		}
	}
	return false
}

// Render emits the Containerfile. Output depends only on the plan, so the
// same plan always renders the same bytes.
func (p *Plan) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# syntax=docker/dockerfile:1\n")
	for _, s := range p.Stages {
		fmt.Fprintf(&buf, "\nFROM %s AS %s\n", s.Base, s.Name)
		instructions := s.Instructions
		if s.Name == Runner && p.digest != "" {
			// Before ENTRYPOINT, which is always last.
			n := len(instructions)
			instructions = slices.Concat(instructions[:n-1], []Instruction{Label{Key: DigestLabel, Value: p.digest}}, instructions[n-1:])
		}
		for _, in := range instructions {
			line, err := in.Render()
			if err != nil {
				return nil, err
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// Digest hashes the unlabelled Containerfile together with the build context
// inputs, ordered by name.
func (p *Plan) Digest(inputs []Input) (string, error) {
	unsealed := Plan{Stages: p.Stages, Promotions: p.Promotions}
	cf, err := unsealed.Render()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(cf)
	sorted := slices.SortedFunc(slices.Values(inputs), func(a, b Input) int { return cmp.Compare(a.Name, b.Name) })
	for _, in := range sorted {
		fmt.Fprintf(h, "%s\x00%s\n", in.Name, in.Hash)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Seal computes the digest and records it as a runner label.
func (p *Plan) Seal(inputs []Input) (string, error) {
	d, err := p.Digest(inputs)
	if err != nil {
		return "", err
	}
	p.digest = d
	return d, nil
}

// Markdown summarizes stages and the promotion set.
func (p *Plan) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Build plan\n\n")
	for _, s := range p.Stages {
		fmt.Fprintf(&sb, "## %s\n\nBase image: `%s`\n\n", s.Name, s.Base)
		for _, in := range s.Instructions {
			if r, ok := in.(Run); ok && r.HasSecretMount() {
				ids := make([]string, 0, len(r.Mounts))
				for _, m := range r.Mounts {
					ids = append(ids, fmt.Sprintf("`%s:%s`", m.Type, m.ID))
				}
				fmt.Fprintf(&sb, "- install step with scoped mounts %s\n", strings.Join(ids, ", "))
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Promotion set\n\n| From | Path | Destination |\n|---|---|---|\n")
	for _, pr := range p.Promotions {
		from := string(pr.Artifact.Stage)
		if from == "" {
			from = "context"
		}
		fmt.Fprintf(&sb, "| %s | `%s` | `%s` |\n", from, pr.Artifact.Path, pr.Dest)
	}
	if p.digest != "" {
		fmt.Fprintf(&sb, "\nDigest: `%s`\n", p.digest)
	}
	return sb.String()
}
