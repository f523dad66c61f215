// SPDX-License-Identifier: MPL-2.0

package deps

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/provkit/provkit/internal/secrets"
	"github.com/provkit/provkit/internal/testutil"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type fakeLister struct {
	refs map[string][]*plumbing.Reference
	err  error
	urls []string
}

func (f *fakeLister) ListRefs(_ context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	f.urls = append(f.urls, url)
	if auth == nil {
		return nil, errors.New("no auth")
	}
	return f.refs[url], f.err
}

func testCreds(t *testing.T) *secrets.Credentials {
	t.Helper()
	dir := t.TempDir()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	kh := testutil.MustWriteFile(t, dir, "known_hosts", []byte(knownhosts.Line([]string{"github.com"}, key)+"\n"))
	return &secrets.Credentials{
		Handle:         secrets.Handle{ID: "deploy", Source: testutil.PrivateKeyFile(t, dir)},
		Trust:          secrets.HostTrust{Host: "github.com"},
		Rewrite:        secrets.RewriteFor("github.com"),
		KnownHostsFile: kh,
	}
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	manifest, err := Parse("requirements.txt", []byte(
		"boson-sdk @ git+https://github.com/example/boson-sdk.git@v1.4.0\n"+
			"git+ssh://git@github.com/example/cql-tools.git@main#egg=cql-tools\n"+
			"git+https://github.com/example/pinned.git@0123abcd\n"+
			"git+https://gitlab.com/other/public.git@missing\n"+
			"requests\n"))
	if err != nil {
		t.Fatal(err)
	}

	hash := plumbing.NewHash("89abcdef0123456789abcdef0123456789abcdef")
	lister := &fakeLister{refs: map[string][]*plumbing.Reference{
		"ssh://git@github.com/example/boson-sdk.git": {plumbing.NewHashReference(plumbing.NewTagReferenceName("v1.4.0"), hash)},
		"ssh://git@github.com/example/cql-tools.git": {plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)},
		"ssh://git@github.com/example/pinned.git":    {plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)},
	}}

	v := NewVerifier(log.New(io.Discard), lister)
	if err := v.Verify(context.Background(), manifest, testCreds(t)); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if len(lister.urls) != 3 {
		t.Errorf("expected 3 private remotes listed, got %v", lister.urls)
	}
}

func TestVerifier_MissingRef(t *testing.T) {
	t.Parallel()

	manifest, err := Parse("requirements.txt", []byte("git+https://github.com/example/lib.git@v9.9.9#egg=lib\n"))
	if err != nil {
		t.Fatal(err)
	}
	lister := &fakeLister{refs: map[string][]*plumbing.Reference{
		"ssh://git@github.com/example/lib.git": {
			plumbing.NewHashReference(plumbing.NewTagReferenceName("v1.0.0"), plumbing.ZeroHash),
		},
	}}

	err = NewVerifier(log.New(io.Discard), lister).Verify(context.Background(), manifest, testCreds(t))
	if !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("Verify() = %v, want ErrRefNotFound", err)
	}
}

func TestVerifier_ListFailure(t *testing.T) {
	t.Parallel()

	manifest, err := Parse("requirements.txt", []byte("git+https://github.com/example/lib.git\n"))
	if err != nil {
		t.Fatal(err)
	}
	denied := errors.New("permission denied (publickey)")
	err = NewVerifier(log.New(io.Discard), &fakeLister{err: denied}).Verify(context.Background(), manifest, testCreds(t))
	if !errors.Is(err, denied) {
		t.Fatalf("Verify() = %v, want wrapped list error", err)
	}
}

func TestAuth_KeyFile(t *testing.T) {
	t.Parallel()

	auth, release, err := Auth(testCreds(t))
	if err != nil {
		t.Fatalf("Auth() error: %v", err)
	}
	if auth.Name() != "ssh-public-keys" {
		t.Errorf("Auth().Name() = %q", auth.Name())
	}
	if err := release(); err != nil {
		t.Errorf("release() = %v", err)
	}
}

func TestAuth_AgentSocketReleased(t *testing.T) {
	t.Parallel()

	creds := testCreds(t)
	creds.Handle.Source = testutil.AgentSocket(t)
	auth, release, err := Auth(creds)
	if err != nil {
		t.Fatalf("Auth() error: %v", err)
	}
	cb, ok := auth.(*gitssh.PublicKeysCallback)
	if !ok {
		t.Fatalf("Auth() = %T, want *ssh.PublicKeysCallback", auth)
	}
	if _, err := cb.Callback(); err != nil {
		t.Fatalf("agent should answer before release: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release() = %v", err)
	}
	if _, err := cb.Callback(); err == nil {
		t.Error("agent connection still open after release")
	}
}

//nolint:paralleltest // uses t.Setenv
func TestAuth_DefaultAgentUnset(t *testing.T) {
	t.Setenv(secrets.AgentSocketEnv, "")

	creds := testCreds(t)
	creds.Handle.Source = ""
	if _, _, err := Auth(creds); !errors.Is(err, secrets.ErrSecretUnavailable) {
		t.Fatalf("Auth() = %v, want ErrSecretUnavailable", err)
	}
}
