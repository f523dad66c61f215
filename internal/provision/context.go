// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/provkit/provkit/internal/deps"
	"github.com/provkit/provkit/internal/stage"
)

const (
	// ContainerfileName is the generated Containerfile inside the build context.
	ContainerfileName = "Containerfile"
	// LauncherName is the launcher binary inside the build context.
	LauncherName = "provkit"
)

// reserved names are generated into the context root and cannot be app files.
var reserved = []string{ContainerfileName, LauncherName, deps.NormalizedName}

// buildContext is a prepared, throwaway build context directory.
type buildContext struct {
	Dir      string
	AppFiles []string
	Inputs   []stage.Input
}

func (c *buildContext) cleanup() {
	_ = os.RemoveAll(c.Dir) // Temp dir; error non-critical
}

// prepareContext creates a temp directory holding the normalized manifest,
// the app files matched by opts.AppFiles, and the launcher binary, which must
// be a linux ELF executable for opts.Platform. Secret material is never
// written here. The caller owns cleanup.
func prepareContext(m *deps.Manifest, opts Options, executable func() (string, error)) (_ *buildContext, err error) {
	files, err := ExpandAppFiles(opts.ContextDir, opts.AppFiles)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if slices.Contains(reserved, f) {
			return nil, &MissingArtifactError{Pattern: f, Reason: "collides with a generated build context file"}
		}
	}

	launcher := opts.LauncherBinary
	if launcher == "" {
		if launcher, err = executable(); err != nil {
			return nil, fmt.Errorf("locate launcher binary: %w", err)
		}
	}
	if info, statErr := os.Stat(launcher); statErr != nil || !info.Mode().IsRegular() {
		return nil, &MissingArtifactError{Pattern: launcher, Reason: "launcher binary not found"}
	}
	if err := checkLauncher(launcher, opts.Platform); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "provkit-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	bc := &buildContext{Dir: dir, AppFiles: files}
	defer func() {
		if err != nil {
			bc.cleanup()
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, deps.NormalizedName), m.Normalized(), 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	for _, f := range files {
		if err := CopyFile(filepath.Join(opts.ContextDir, filepath.FromSlash(f)), filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			return nil, fmt.Errorf("copy app file %s: %w", f, err)
		}
	}
	dst := filepath.Join(dir, LauncherName)
	if err := CopyFile(launcher, dst); err != nil {
		return nil, fmt.Errorf("copy launcher binary: %w", err)
	}
	_ = os.Chmod(dst, 0o755) // Best-effort; COPY keeps the mode

	if bc.Inputs, err = hashInputs(dir); err != nil {
		return nil, err
	}
	return bc, nil
}

// hashInputs hashes every file in the context. The Containerfile is not yet
// written, so the inputs are exactly the files the plan copies.
func hashInputs(dir string) ([]stage.Input, error) {
	files, err := walkFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list build context: %w", err)
	}
	inputs := make([]stage.Input, 0, len(files))
	for _, f := range files {
		h, err := CalculateFileHash(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f, err)
		}
		inputs = append(inputs, stage.Input{Name: f, Hash: h})
	}
	return inputs, nil
}
