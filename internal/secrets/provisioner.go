// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/issue"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type (
	// Provisioner prepares Credentials for one build.
	Provisioner struct {
		logger         *log.Logger
		lookupEnv      func(string) (string, bool)
		scanner        HostKeyScanner
		knownHostsFile string
		pins           []string
		tempDir        string
	}

	// Option configures a Provisioner.
	Option func(*Provisioner)

	// Credentials is everything the install step needs to fetch private
	// dependencies. Close must be called once the build finishes.
	Credentials struct {
		Handle  Handle
		Trust   HostTrust
		Rewrite RewriteRule
		// KnownHostsFile is the host path of the record passed as a secret mount.
		KnownHostsFile string

		closeOnce sync.Once
		closeErr  error
	}
)

// WithLookupEnv replaces os.LookupEnv for the agent socket lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(p *Provisioner) { p.lookupEnv = fn }
}

// WithScanner replaces the network host key scanner.
func WithScanner(s HostKeyScanner) Option {
	return func(p *Provisioner) { p.scanner = s }
}

// WithKnownHostsFile trusts the records in path instead of scanning the host.
func WithKnownHostsFile(path string) Option {
	return func(p *Provisioner) { p.knownHostsFile = path }
}

// WithPinnedFingerprints requires every host key to match one of the SHA256 fingerprints.
func WithPinnedFingerprints(pins []string) Option {
	return func(p *Provisioner) { p.pins = pins }
}

// WithTempDir sets where the known-hosts record is written.
func WithTempDir(dir string) Option {
	return func(p *Provisioner) { p.tempDir = dir }
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(logger *log.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		logger:    logger,
		lookupEnv: os.LookupEnv,
		scanner:   SSHScanner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision checks the handle, establishes host trust, and writes the
// known-hosts record. It fails before anything is written when the handle
// has no usable source.
func (p *Provisioner) Provision(ctx context.Context, h Handle, host string) (*Credentials, error) {
	if err := h.Check(p.lookupEnv); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("provision build secrets").
			WithResource("ssh:" + h.ID).
			WithSuggestion("Start an SSH agent and add the deploy key (ssh-add <key>)").
			WithSuggestion("Or set secrets.ssh_source to the key file").
			Wrap(err).
			BuildError()
	}
	if h.UsesAgent() {
		p.logger.Debug("ssh handle ready", "id", h.ID, "source", "agent")
	} else {
		p.logger.Debug("ssh handle ready", "id", h.ID, "sources", len(h.Sources()))
	}

	keys, err := p.hostKeys(ctx, host)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("establish trust in dependency host").
			WithResource(host).
			WithSuggestion("Check network access to the host on port 22").
			WithSuggestion("Or provide a known_hosts file via secrets.known_hosts").
			Wrap(err).
			BuildError()
	}

	trust, err := NewHostTrust(host, keys, p.pins)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("establish trust in dependency host").
			WithResource(host).
			WithSuggestion("Compare secrets.host_fingerprints with the provider's published fingerprints").
			Wrap(err).
			BuildError()
	}
	for _, fp := range trust.Fingerprints {
		p.logger.Debug("trusting host key", "host", host, "fingerprint", fp)
	}

	f, err := os.CreateTemp(p.tempDir, "provkit-known-hosts-*")
	if err != nil {
		return nil, fmt.Errorf("create known_hosts record: %w", err)
	}
	if err := f.Chmod(0o600); err == nil {
		_, err = f.Write(trust.Record())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write known_hosts record: %w", err)
	}

	return &Credentials{
		Handle:         h,
		Trust:          trust,
		Rewrite:        RewriteFor(host),
		KnownHostsFile: f.Name(),
	}, nil
}

func (p *Provisioner) hostKeys(ctx context.Context, host string) ([]ssh.PublicKey, error) {
	if p.knownHostsFile != "" {
		data, err := os.ReadFile(expandHome(p.knownHostsFile))
		if err != nil {
			return nil, fmt.Errorf("read known_hosts: %w", err)
		}
		return ParseKnownHosts(data, host)
	}
	p.logger.Info("scanning host keys", "host", host)
	return p.scanner.Scan(ctx, host)
}

// SSHMount returns the engine ssh mount for the handle.
func (c *Credentials) SSHMount() container.SSHMount {
	return container.SSHMount{ID: c.Handle.ID, Sources: c.Handle.Sources()}
}

// SecretMounts returns the engine secret mounts (the known-hosts record).
func (c *Credentials) SecretMounts() []container.SecretMount {
	return []container.SecretMount{{ID: KnownHostsSecretID, Src: c.KnownHostsFile}}
}

// HostKeyCallback verifies servers against the provisioned record.
func (c *Credentials) HostKeyCallback() (ssh.HostKeyCallback, error) {
	return knownhosts.New(c.KnownHostsFile)
}

// Close removes the known-hosts record. It is safe to call more than once.
func (c *Credentials) Close() error {
	c.closeOnce.Do(func() {
		if c.KnownHostsFile == "" {
			return
		}
		if err := os.Remove(c.KnownHostsFile); err != nil && !os.IsNotExist(err) {
			c.closeErr = fmt.Errorf("remove known_hosts record: %w", err)
		}
	})
	return c.closeErr
}
