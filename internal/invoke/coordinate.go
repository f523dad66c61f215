// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"errors"
	"fmt"
	"strings"

	"github.com/provkit/provkit/internal/config"

	"github.com/google/go-containerregistry/pkg/name"
	"golang.org/x/mod/semver"
)

// ErrInvalidSuffix is the sentinel wrapped by InvalidSuffixError.
var ErrInvalidSuffix = errors.New("invalid version suffix")

type (
	// Coordinate locates an image repository. A suffix completes the tag.
	Coordinate struct {
		Registry   string
		Project    string
		Repository string
		Image      string
		TagPrefix  string
		// Insecure allows plain-HTTP registries.
		Insecure bool
	}

	// ImageRef is a resolved, validated image reference.
	ImageRef struct {
		tag name.Tag
	}

	// InvalidSuffixError reports why a suffix was rejected.
	InvalidSuffixError struct {
		Suffix string
		Reason string
	}
)

func (e *InvalidSuffixError) Error() string {
	return fmt.Sprintf("invalid version suffix %q: %s", e.Suffix, e.Reason)
}

func (e *InvalidSuffixError) Unwrap() error { return ErrInvalidSuffix }

// CoordinateFromConfig maps the image section of cfg.
func CoordinateFromConfig(cfg config.ImageConfig) Coordinate {
	return Coordinate{
		Registry:   cfg.Registry,
		Project:    cfg.Project,
		Repository: cfg.Repository,
		Image:      cfg.Name,
		TagPrefix:  cfg.TagPrefix,
		Insecure:   cfg.Insecure,
	}
}

// Repo returns <registry>/<project>/<repository>/images/<image>.
func (c Coordinate) Repo() string {
	return strings.Join([]string{c.Registry, c.Project, c.Repository, "images", c.Image}, "/")
}

// Resolve substitutes suffix into the tag template. With the default prefix,
// suffix 5 resolves to <repo>:v0.0.5. The resulting tag must be valid semver
// and the reference a valid OCI name.
func (c Coordinate) Resolve(suffix string) (ImageRef, error) {
	if suffix == "" {
		return ImageRef{}, &InvalidSuffixError{Suffix: suffix, Reason: "suffix is empty"}
	}
	if strings.ContainsAny(suffix, ":/@ \t") {
		return ImageRef{}, &InvalidSuffixError{Suffix: suffix, Reason: "suffix must be a version component"}
	}
	version := c.TagPrefix + suffix
	if !semver.IsValid(version) {
		return ImageRef{}, &InvalidSuffixError{Suffix: suffix, Reason: version + " is not a semantic version"}
	}

	opts := []name.Option{name.StrictValidation}
	if c.Insecure {
		opts = append(opts, name.Insecure)
	}
	tag, err := name.NewTag(c.Repo()+":"+version, opts...)
	if err != nil {
		return ImageRef{}, &InvalidSuffixError{Suffix: suffix, Reason: err.Error()}
	}
	return ImageRef{tag: tag}, nil
}

// String returns the full reference.
func (r ImageRef) String() string { return r.tag.String() }

// Tag returns the tag component, e.g. v0.0.5.
func (r ImageRef) Tag() string { return r.tag.TagStr() }

// Reference returns the go-containerregistry reference.
func (r ImageRef) Reference() name.Reference { return r.tag }
