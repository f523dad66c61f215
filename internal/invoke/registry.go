// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// Compile-time interface check
var _ TagChecker = (*RegistryChecker)(nil)

type (
	// TagChecker reports whether an image tag is published.
	TagChecker interface {
		Exists(ctx context.Context, ref name.Reference) (bool, error)
	}

	// RegistryChecker asks the registry with a manifest HEAD request, using
	// the operator's docker credential helpers.
	RegistryChecker struct {
		Keychain  authn.Keychain
		Transport http.RoundTripper
	}
)

// NewRegistryChecker returns a checker using the default keychain.
func NewRegistryChecker() *RegistryChecker {
	return &RegistryChecker{Keychain: authn.DefaultKeychain}
}

// Exists implements TagChecker. A 404 (or MANIFEST_UNKNOWN) is reported as
// absent; any other failure is an error.
func (c *RegistryChecker) Exists(ctx context.Context, ref name.Reference) (bool, error) {
	opts := []remote.Option{remote.WithContext(ctx)}
	if c.Keychain != nil {
		opts = append(opts, remote.WithAuthFromKeychain(c.Keychain))
	}
	if c.Transport != nil {
		opts = append(opts, remote.WithTransport(c.Transport))
	}

	_, err := remote.Head(ref, opts...)
	if err == nil {
		return true, nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("query registry for %s: %w", ref, err)
}
