// SPDX-License-Identifier: MPL-2.0

package deps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/internal/secrets"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/crypto/ssh/agent"
)

// ErrRefNotFound is returned when a VCS requirement names a ref the remote lacks.
var ErrRefNotFound = errors.New("ref not found on remote")

var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

type (
	// RefLister lists the refs advertised by a git remote.
	RefLister interface {
		ListRefs(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error)
	}

	// GitLister lists refs with go-git, like git ls-remote.
	GitLister struct{}

	// Verifier checks that private VCS requirements resolve with the
	// provisioned credentials before an image build is attempted.
	Verifier struct {
		logger *log.Logger
		lister RefLister
	}

	// RefNotFoundError names the missing ref.
	RefNotFoundError struct {
		URL string
		Ref string
	}
)

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("%s has no branch or tag %q", e.URL, e.Ref)
}

func (e *RefNotFoundError) Unwrap() error { return ErrRefNotFound }

// ListRefs implements RefLister.
func (GitLister) ListRefs(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &git.ListOptions{Auth: auth})
}

// NewVerifier creates a Verifier. A nil lister uses GitLister.
func NewVerifier(logger *log.Logger, lister RefLister) *Verifier {
	if lister == nil {
		lister = GitLister{}
	}
	return &Verifier{logger: logger, lister: lister}
}

// Verify lists the refs of every requirement hosted on the credentials'
// host and checks that the pinned ref exists. Commit pins cannot be checked
// remotely; only reachability is verified for them.
func (v *Verifier) Verify(ctx context.Context, m *Manifest, creds *secrets.Credentials) error {
	private := m.Private(creds.Trust.Host)
	if len(private) == 0 {
		v.logger.Info("no private requirements", "host", creds.Trust.Host)
		return nil
	}

	auth, release, err := Auth(creds)
	if err != nil {
		return err
	}
	defer func() { _ = release() }() // Agent connection only; close error non-critical

	for _, req := range private {
		url := creds.Rewrite.Apply(req.VCS.URL)
		v.logger.Info("listing refs", "requirement", req.displayName(), "url", url)

		refs, err := v.lister.ListRefs(ctx, url, auth)
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("resolve private requirement").
				WithResource(req.Raw).
				WithSuggestion("Check that the deploy key has read access to " + req.VCS.URL).
				Wrap(err).
				BuildError()
		}
		if req.VCS.Ref == "" {
			continue
		}
		if hasRef(refs, req.VCS.Ref) {
			continue
		}
		if commitPattern.MatchString(req.VCS.Ref) {
			v.logger.Warn("commit pins cannot be verified remotely", "requirement", req.displayName(), "ref", req.VCS.Ref)
			continue
		}
		return &RefNotFoundError{URL: req.VCS.URL, Ref: req.VCS.Ref}
	}
	return nil
}

func hasRef(refs []*plumbing.Reference, ref string) bool {
	for _, r := range refs {
		name := r.Name()
		if name == plumbing.NewBranchReferenceName(ref) || name == plumbing.NewTagReferenceName(ref) {
			return true
		}
		if strings.HasPrefix(r.Hash().String(), ref) && commitPattern.MatchString(ref) {
			return true
		}
	}
	return false
}

// Auth builds go-git SSH auth from the credentials: the agent named by
// SSH_AUTH_SOCK when the handle has no explicit source, otherwise its first
// source, which may be an agent socket or a key file. Host keys are checked
// against the provisioned known-hosts record. The caller must call release
// once the auth is no longer used; it closes the agent connection, if any.
func Auth(creds *secrets.Credentials) (auth transport.AuthMethod, release func() error, err error) {
	cb, err := creds.HostKeyCallback()
	if err != nil {
		return nil, nil, fmt.Errorf("load provisioned known_hosts: %w", err)
	}

	var sock string
	if creds.Handle.UsesAgent() {
		if sock = os.Getenv(secrets.AgentSocketEnv); sock == "" {
			return nil, nil, fmt.Errorf("%w: %s is not set", secrets.ErrSecretUnavailable, secrets.AgentSocketEnv)
		}
	} else if src := creds.Handle.Sources()[0]; isSocket(src) {
		sock = src
	} else {
		keys, err := gitssh.NewPublicKeysFromFile("git", src, "")
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", secrets.ErrSecretUnavailable, err)
		}
		keys.HostKeyCallback = cb
		return keys, func() error { return nil }, nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", secrets.ErrSecretUnavailable, err)
	}
	return &gitssh.PublicKeysCallback{
		User:     "git",
		Callback: agent.NewClient(conn).Signers,
		HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
			HostKeyCallback: cb,
		},
	}, conn.Close, nil
}

func isSocket(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (r Requirement) displayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Raw
}
