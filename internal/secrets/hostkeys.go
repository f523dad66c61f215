// SPDX-License-Identifier: MPL-2.0

package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrHostKeyMismatch is returned when a host key matches no pinned fingerprint.
	ErrHostKeyMismatch = errors.New("host key does not match pinned fingerprints")
	// ErrNoHostKeys is returned when no key could be obtained for the host.
	ErrNoHostKeys = errors.New("no host keys found")

	errKeyCaptured = errors.New("host key captured")
)

// scanAlgorithms are requested one handshake at a time so that every key type
// the host offers is recorded.
var scanAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoRSASHA512,
}

type (
	// HostKeyScanner obtains the public host keys of an SSH server.
	HostKeyScanner interface {
		Scan(ctx context.Context, host string) ([]ssh.PublicKey, error)
	}

	// SSHScanner performs key-exchange-only handshakes and aborts each one as
	// soon as the server key is seen. No authentication is attempted.
	SSHScanner struct {
		Port    int
		Timeout time.Duration
	}

	// HostTrust is the set of known-hosts records trusted for Host.
	HostTrust struct {
		Host         string
		Keys         []ssh.PublicKey
		Fingerprints []string
	}

	// HostKeyMismatchError names the offending fingerprint.
	HostKeyMismatchError struct {
		Host        string
		Fingerprint string
	}
)

// Scan implements HostKeyScanner.
func (s SSHScanner) Scan(ctx context.Context, host string) ([]ssh.PublicKey, error) {
	port := s.Port
	if port == 0 {
		port = 22
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var keys []ssh.PublicKey
	var lastErr error
	for _, algo := range scanAlgorithms {
		key, err := scanOne(ctx, addr, algo, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if !slices.ContainsFunc(keys, func(k ssh.PublicKey) bool { return bytes.Equal(k.Marshal(), key.Marshal()) }) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w for %s: %w", ErrNoHostKeys, addr, lastErr)
	}
	return keys, nil
}

func scanOne(ctx context.Context, addr, algo string, timeout time.Duration) (ssh.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User:              "git",
		HostKeyAlgorithms: []string{algo},
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
		Timeout: timeout,
	}
	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("handshake finished without a host key")
	}
	return nil, fmt.Errorf("%s: %w", algo, err)
}

// ParseKnownHosts reads every record of a known_hosts document that applies
// to host. Hashed entries cannot be matched and are skipped.
func ParseKnownHosts(data []byte, host string) ([]ssh.PublicKey, error) {
	want := knownhosts.Normalize(host)
	var keys []ssh.PublicKey
	rest := data
	for len(rest) > 0 {
		_, hosts, key, _, next, err := ssh.ParseKnownHosts(rest)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse known_hosts: %w", err)
		}
		rest = next
		for _, h := range hosts {
			if knownhosts.Normalize(h) == want {
				keys = append(keys, key)
				break
			}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w for %s in known_hosts", ErrNoHostKeys, host)
	}
	return keys, nil
}

// NewHostTrust builds the trust set for host and, when pins are given,
// requires every key to match one of them.
func NewHostTrust(host string, keys []ssh.PublicKey, pins []string) (HostTrust, error) {
	t := HostTrust{Host: host, Keys: keys}
	for _, k := range keys {
		fp := ssh.FingerprintSHA256(k)
		if len(pins) > 0 && !slices.Contains(pins, fp) {
			return HostTrust{}, &HostKeyMismatchError{Host: host, Fingerprint: fp}
		}
		t.Fingerprints = append(t.Fingerprints, fp)
	}
	return t, nil
}

// Record renders the trust set as known_hosts lines.
func (t HostTrust) Record() []byte {
	var buf bytes.Buffer
	for _, k := range t.Keys {
		buf.WriteString(knownhosts.Line([]string{t.Host}, k))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host %s presented key %s which is not pinned", e.Host, e.Fingerprint)
}

func (e *HostKeyMismatchError) Unwrap() error { return ErrHostKeyMismatch }
