// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"errors"
	"testing"

	"github.com/provkit/provkit/internal/config"
)

func TestCoordinate_Resolve(t *testing.T) {
	t.Parallel()

	coord := CoordinateFromConfig(config.DefaultConfig().Image)

	tests := []struct {
		suffix  string
		want    string
		wantErr bool
	}{
		{"5", "us-central1-docker.pkg.dev/provider-project/providers/images/provider:v0.0.5", false},
		{"12", "us-central1-docker.pkg.dev/provider-project/providers/images/provider:v0.0.12", false},
		{"5-rc.1", "us-central1-docker.pkg.dev/provider-project/providers/images/provider:v0.0.5-rc.1", false},
		{"", "", true},
		{"05", "", true},
		{"x", "", true},
		{"5:latest", "", true},
		{"5/evil", "", true},
		{"5.1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			t.Parallel()
			ref, err := coord.Resolve(tt.suffix)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSuffix) {
					t.Errorf("Resolve(%q) = %v, want ErrInvalidSuffix", tt.suffix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.suffix, err)
			}
			if ref.String() != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.suffix, ref, tt.want)
			}
		})
	}
}

func TestCoordinate_ResolveTag(t *testing.T) {
	t.Parallel()

	ref, err := Coordinate{Registry: "registry.test", Project: "p", Repository: "r", Image: "svc", TagPrefix: "v0.0."}.Resolve("5")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Tag() != "v0.0.5" {
		t.Errorf("Tag() = %q, want v0.0.5", ref.Tag())
	}
	if ref.Reference().Context().RegistryStr() != "registry.test" {
		t.Errorf("registry = %q", ref.Reference().Context().RegistryStr())
	}
}
