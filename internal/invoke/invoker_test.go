// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"testing"

	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/testutil"
	"github.com/provkit/provkit/pkg/types"

	"github.com/charmbracelet/log"
	"github.com/google/go-containerregistry/pkg/name"
)

type fakeChecker struct {
	exists bool
	err    error
	asked  []string
}

func (f *fakeChecker) Exists(_ context.Context, ref name.Reference) (bool, error) {
	f.asked = append(f.asked, ref.String())
	return f.exists, f.err
}

type runRecorder struct {
	runs     []container.RunOptions
	exitCode types.ExitCode
}

func (r *runRecorder) Name() string                                        { return "mock" }
func (r *runRecorder) Available() bool                                     { return true }
func (r *runRecorder) Version(context.Context) (string, error)             { return "1.0", nil }
func (r *runRecorder) Build(context.Context, container.BuildOptions) error { return nil }
func (r *runRecorder) Push(context.Context, string) error                  { return nil }
func (r *runRecorder) ImageExists(context.Context, string) (bool, error)   { return true, nil }
func (r *runRecorder) RemoveImage(context.Context, string, bool) error     { return nil }

func (r *runRecorder) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	r.runs = append(r.runs, opts)
	return &container.RunResult{ExitCode: r.exitCode}, nil
}

var testCoord = Coordinate{Registry: "registry.test", Project: "proj", Repository: "repo", Image: "provider", TagPrefix: "v0.0."}

func notTerminal() bool { return false }

func TestInvoker_Run(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{exists: true}
	engine := &runRecorder{exitCode: 3}
	inv := New(testCoord, engine, checker, log.New(io.Discard), WithTerminalCheck(notTerminal))

	code, err := inv.Run(context.Background(), Request{
		Suffix: "5",
		Lookup: testutil.Lookup(map[string]string{"API_KEY": "k", "CLIENT_ID": "c", "CLIENT_SECRET": "s", "HOME": "/root"}),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want the engine's 3", code)
	}
	if len(checker.asked) != 1 || checker.asked[0] != "registry.test/proj/repo/images/provider:v0.0.5" {
		t.Errorf("registry asked for %v", checker.asked)
	}

	opts := engine.runs[0]
	if opts.Image != "registry.test/proj/repo/images/provider:v0.0.5" {
		t.Errorf("Image = %q", opts.Image)
	}
	if !opts.Remove || !opts.Interactive || opts.TTY {
		t.Errorf("unexpected flags remove=%v interactive=%v tty=%v", opts.Remove, opts.Interactive, opts.TTY)
	}
	if len(opts.Ports) != 1 || opts.Ports[0].String() != "8000:8000" {
		t.Errorf("Ports = %v, want [8000:8000]", opts.Ports)
	}
	want := map[string]string{"PORT": "8000", "API_KEY": "k", "CLIENT_ID": "c", "CLIENT_SECRET": "s"}
	if !maps.Equal(opts.Env, want) {
		t.Errorf("Env = %v, want %v", opts.Env, want)
	}
}

func TestInvoker_RunOptionsEmptySecrets(t *testing.T) {
	t.Parallel()

	inv := New(testCoord, &runRecorder{}, &fakeChecker{}, log.New(io.Discard), WithTerminalCheck(func() bool { return true }))
	ref, err := testCoord.Resolve("7")
	if err != nil {
		t.Fatal(err)
	}
	opts := inv.RunOptions(ref, Request{Lookup: testutil.Lookup(map[string]string{"API_KEY": "k"})})

	keys := slices.Sorted(maps.Keys(opts.Env))
	if !slices.Equal(keys, []string{"API_KEY", "CLIENT_ID", "CLIENT_SECRET", "PORT"}) {
		t.Errorf("env keys = %v", keys)
	}
	if opts.Env["CLIENT_ID"] != "" || opts.Env["CLIENT_SECRET"] != "" {
		t.Error("unset secrets should be forwarded empty")
	}
	if !opts.TTY {
		t.Error("TTY should follow the terminal check")
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("RunOptions should validate: %v", err)
	}
}

func TestInvoker_ImageNotFound(t *testing.T) {
	t.Parallel()

	engine := &runRecorder{}
	inv := New(testCoord, engine, &fakeChecker{exists: false}, log.New(io.Discard), WithTerminalCheck(notTerminal))

	code, err := inv.Run(context.Background(), Request{Suffix: "99", Lookup: testutil.Lookup(nil)})
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("Run() = %v, want ErrImageNotFound", err)
	}
	if code.IsSuccess() {
		t.Error("missing image must exit non-zero")
	}
	if len(engine.runs) != 0 {
		t.Error("no container may start for a missing tag")
	}
}

func TestInvoker_RegistryError(t *testing.T) {
	t.Parallel()

	engine := &runRecorder{}
	unauthorized := errors.New("UNAUTHORIZED")
	inv := New(testCoord, engine, &fakeChecker{err: unauthorized}, log.New(io.Discard), WithTerminalCheck(notTerminal))

	if _, err := inv.Run(context.Background(), Request{Suffix: "1", Lookup: testutil.Lookup(nil)}); !errors.Is(err, unauthorized) {
		t.Fatalf("Run() = %v", err)
	}
	if len(engine.runs) != 0 {
		t.Error("no container may start when the registry check fails")
	}
}

func TestInvoker_SkipRegistryCheck(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	engine := &runRecorder{}
	inv := New(testCoord, engine, checker, log.New(io.Discard), WithTerminalCheck(notTerminal))

	if _, err := inv.Run(context.Background(), Request{Suffix: "1", SkipRegistryCheck: true, Lookup: testutil.Lookup(nil)}); err != nil {
		t.Fatal(err)
	}
	if len(checker.asked) != 0 {
		t.Error("registry should not be asked")
	}
	if engine.runs[0].Ports[0].String() != "8000:8000" {
		t.Errorf("port = %s", engine.runs[0].Ports[0])
	}
}

func TestInvoker_InvalidSuffix(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{exists: true}
	inv := New(testCoord, &runRecorder{}, checker, log.New(io.Discard), WithTerminalCheck(notTerminal))
	if _, err := inv.Run(context.Background(), Request{Suffix: "latest"}); !errors.Is(err, ErrInvalidSuffix) {
		t.Errorf("Run() = %v, want ErrInvalidSuffix", err)
	}
	if len(checker.asked) != 0 {
		t.Error("registry should not be asked for an invalid suffix")
	}
}
