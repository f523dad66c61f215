// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"debug/elf"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/secrets"
	"github.com/provkit/provkit/internal/testutil"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// mockEngine records builds and snapshots the build context while it exists.
type mockEngine struct {
	builds        []container.BuildOptions
	pushed        []string
	containerfile string
	contextFiles  map[string][]byte
	buildErr      error
}

func (m *mockEngine) Name() string                                      { return "mock" }
func (m *mockEngine) Available() bool                                   { return true }
func (m *mockEngine) Version(context.Context) (string, error)           { return "1.0", nil }
func (m *mockEngine) ImageExists(context.Context, string) (bool, error) { return false, nil }
func (m *mockEngine) RemoveImage(context.Context, string, bool) error   { return nil }

func (m *mockEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}

func (m *mockEngine) Push(_ context.Context, image string) error {
	m.pushed = append(m.pushed, image)
	return nil
}

func (m *mockEngine) Build(_ context.Context, opts container.BuildOptions) error {
	m.builds = append(m.builds, opts)
	if err := opts.Validate(); err != nil {
		return err
	}
	m.contextFiles = make(map[string][]byte)
	files, err := walkFiles(opts.ContextDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(opts.ContextDir, f))
		if err != nil {
			return err
		}
		m.contextFiles[f] = data
	}
	m.containerfile = string(m.contextFiles[opts.Containerfile])
	return m.buildErr
}

type fixture struct {
	opts       Options
	keyPath    string
	knownHosts string
	tempDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	project := t.TempDir()
	testutil.MustWriteFile(t, project, "requirements.txt", []byte(
		"# private\nboson-sdk @ git+https://github.com/example/boson-sdk.git@v1.4.0\nrequests==2.32.3\n"))
	testutil.MustWriteFile(t, project, "provider.py", []byte("app = None\n"))
	testutil.MustMkdirAll(t, filepath.Join(project, "schemas"), 0o755)
	testutil.MustWriteFile(t, filepath.Join(project, "schemas"), "query.json", []byte("{}\n"))
	launcher := testutil.ELFExecutable(t, project, "provkit-linux-amd64", elf.EM_X86_64)

	keys := t.TempDir()
	keyPath := testutil.PrivateKeyFile(t, keys)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	kh := testutil.MustWriteFile(t, keys, "known_hosts", []byte(knownhosts.Line([]string{"github.com"}, hostKey)+"\n"))

	return &fixture{
		opts: Options{
			ContextDir:     project,
			BuilderImage:   "python:3.11",
			RunnerImage:    "python:3.11-slim",
			Manifest:       "requirements.txt",
			AppFiles:       []string{"provider.py", "schemas/*.json"},
			UserBase:       "/opt/provider",
			AppDir:         "/app",
			LauncherBinary: launcher,
			Platform:       "linux/amd64",
			Handle:         secrets.Handle{ID: "default", Source: keyPath},
			Host:           "github.com",
		},
		keyPath:    keyPath,
		knownHosts: kh,
		tempDir:    t.TempDir(),
	}
}

func (f *fixture) provisioner(opts ...secrets.Option) *secrets.Provisioner {
	base := []secrets.Option{
		secrets.WithKnownHostsFile(f.knownHosts),
		secrets.WithTempDir(f.tempDir),
		secrets.WithLookupEnv(testutil.Lookup(nil)),
	}
	return secrets.NewProvisioner(log.New(io.Discard), append(base, opts...)...)
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	engine := &mockEngine{}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))

	res, err := b.Build(context.Background(), Request{Tag: "registry.test/p/r/images/provider:v0.0.5", Push: true})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(engine.builds) != 1 {
		t.Fatalf("expected one build, got %d", len(engine.builds))
	}
	opts := engine.builds[0]

	if opts.Target != "runner" || opts.Containerfile != ContainerfileName {
		t.Errorf("unexpected target/containerfile: %q %q", opts.Target, opts.Containerfile)
	}
	if len(opts.SSH) != 1 || opts.SSH[0].ID != "default" || opts.SSH[0].Sources[0] != f.keyPath {
		t.Errorf("unexpected ssh mount %+v", opts.SSH)
	}
	if len(opts.Secrets) != 1 || opts.Secrets[0].ID != secrets.KnownHostsSecretID {
		t.Errorf("unexpected secret mounts %+v", opts.Secrets)
	}
	if opts.BuildArgs["SOURCE_DATE_EPOCH"] != "0" {
		t.Errorf("SOURCE_DATE_EPOCH = %q", opts.BuildArgs["SOURCE_DATE_EPOCH"])
	}

	wantFiles := []string{"requirements.txt", "provider.py", "schemas/query.json", LauncherName, ContainerfileName}
	for _, name := range wantFiles {
		if _, ok := engine.contextFiles[name]; !ok {
			t.Errorf("build context missing %s", name)
		}
	}
	if len(engine.contextFiles) != len(wantFiles) {
		t.Errorf("build context has unexpected files: %d entries", len(engine.contextFiles))
	}
	if strings.Contains(string(engine.contextFiles["requirements.txt"]), "# private") {
		t.Error("manifest in context should be normalized")
	}

	key, _ := os.ReadFile(f.keyPath)
	record, _ := os.ReadFile(f.knownHosts)
	for name, data := range engine.contextFiles {
		if bytes.Contains(data, key) || bytes.Contains(data, bytes.TrimSpace(record)) {
			t.Errorf("build context file %s contains credential material", name)
		}
	}
	if !strings.Contains(engine.containerfile, res.Digest) {
		t.Error("Containerfile should carry the plan digest")
	}

	if _, err := os.Stat(opts.ContextDir); !os.IsNotExist(err) {
		t.Error("build context should be removed after the build")
	}
	if _, err := os.Stat(opts.Secrets[0].Src); !os.IsNotExist(err) {
		t.Error("known_hosts record should be removed after the build")
	}
	if !res.Pushed || len(engine.pushed) != 1 {
		t.Error("image should have been pushed")
	}
}

func TestBuilder_UnavailableHandle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.Handle = secrets.Handle{ID: "default"} // agent, but SSH_AUTH_SOCK is unset
	engine := &mockEngine{}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))

	_, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1"})
	if !errors.Is(err, secrets.ErrSecretUnavailable) {
		t.Fatalf("Build() = %v, want ErrSecretUnavailable", err)
	}
	if len(engine.builds) != 0 {
		t.Error("engine must not be called when the secret is unavailable")
	}
}

func TestBuilder_MissingAppFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.AppFiles = []string{"provider.py", "missing/**/*.py"}
	engine := &mockEngine{}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))

	_, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1"})
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("Build() = %v, want ErrMissingArtifact", err)
	}
	if len(engine.builds) != 0 {
		t.Error("engine must not be called when an artifact is missing")
	}
	leftovers, _ := os.ReadDir(f.tempDir)
	if len(leftovers) != 0 {
		t.Errorf("known_hosts record left behind: %v", leftovers)
	}
}

func TestBuilder_RunningExecutableMustBeLinuxELF(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.LauncherBinary = ""
	machO := testutil.MustWriteFile(t, t.TempDir(), "provkit-darwin", []byte{0xcf, 0xfa, 0xed, 0xfe, 0x07, 0x00, 0x00, 0x01})
	engine := &mockEngine{}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))
	b.executable = func() (string, error) { return machO, nil }

	_, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1"})
	var missing *MissingArtifactError
	if !errors.As(err, &missing) || missing.Pattern != machO {
		t.Fatalf("Build() = %v, want MissingArtifactError for %s", err, machO)
	}
	if len(engine.builds) != 0 {
		t.Error("engine must not be called with an unusable launcher")
	}
}

func TestBuilder_RunningExecutableUsedWhenUnset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	self := f.opts.LauncherBinary
	f.opts.LauncherBinary = ""
	engine := &mockEngine{}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))
	b.executable = func() (string, error) { return self, nil }

	if _, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1"}); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if _, ok := engine.contextFiles[LauncherName]; !ok {
		t.Error("launcher missing from build context")
	}
}

func TestBuilder_EngineFailureTearsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	engine := &mockEngine{buildErr: errors.New("pip exited 1")}
	b := NewBuilder(engine, f.provisioner(), f.opts, log.New(io.Discard))

	if _, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1", Push: true}); err == nil {
		t.Fatal("expected build error")
	}
	if len(engine.pushed) != 0 {
		t.Error("failed build must not be pushed")
	}
	if leftovers, _ := os.ReadDir(f.tempDir); len(leftovers) != 0 {
		t.Errorf("known_hosts record left behind: %v", leftovers)
	}
}

func TestBuilder_DigestIndependentOfSecrets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := &mockEngine{}
	res1, err := NewBuilder(first, f.provisioner(), f.opts, log.New(io.Discard)).Build(context.Background(), Request{Tag: "img:v0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	// Same handle id, different key on disk.
	g := newFixture(t)
	g.opts.ContextDir = f.opts.ContextDir
	g.opts.LauncherBinary = f.opts.LauncherBinary
	second := &mockEngine{}
	res2, err := NewBuilder(second, g.provisioner(), g.opts, log.New(io.Discard)).Build(context.Background(), Request{Tag: "img:v0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	if res1.Digest != res2.Digest {
		t.Errorf("digest differs across secrets: %s vs %s", res1.Digest, res2.Digest)
	}
	if first.containerfile != second.containerfile {
		t.Error("Containerfile differs across secrets")
	}

	preview, err := NewBuilder(&mockEngine{}, nil, f.opts, log.New(io.Discard)).Preview()
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if preview.Digest != res1.Digest {
		t.Error("preview digest should match the built digest")
	}
}

func TestBuilder_KeepContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := NewBuilder(&mockEngine{}, f.provisioner(), f.opts, log.New(io.Discard))
	res, err := b.Build(context.Background(), Request{Tag: "img:v0.0.1", KeepContext: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(res.ContextDir) })
	if _, err := os.Stat(filepath.Join(res.ContextDir, ContainerfileName)); err != nil {
		t.Errorf("kept context should hold the Containerfile: %v", err)
	}
}

func TestBuilder_RequiresTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := NewBuilder(&mockEngine{}, f.provisioner(), f.opts, log.New(io.Discard)).Build(context.Background(), Request{}); err == nil {
		t.Error("expected error for empty tag")
	}
}
