// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// containerProviderAvailable reports whether testcontainers can reach a
// container provider. Provider detection can panic on hosts without one.
func containerProviderAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// TestRegistryChecker_Distribution runs the check against a real registry:2
// container, the same protocol surface the production registry serves.
func TestRegistryChecker_Distribution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping registry container test in short mode")
	}
	if !containerProviderAvailable() {
		t.Skip("skipping registry container test: no container provider")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStartupTimeout(time.Minute),
	}
	reg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container provider unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(reg); err != nil {
			t.Logf("failed to terminate registry: %v", err)
		}
	})

	host, err := reg.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := reg.MappedPort(ctx, "5000/tcp")
	if err != nil {
		t.Fatal(err)
	}

	coord := Coordinate{
		Registry:   fmt.Sprintf("%s:%s", host, port.Port()),
		Project:    "proj",
		Repository: "repo",
		Image:      "provider",
		TagPrefix:  "v0.0.",
		Insecure:   true,
	}
	published, err := coord.Resolve("5")
	if err != nil {
		t.Fatal(err)
	}
	img, err := random.Image(512, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := remote.Write(published.Reference(), img, remote.WithContext(ctx)); err != nil {
		t.Fatalf("push: %v", err)
	}

	checker := NewRegistryChecker()
	if ok, err := checker.Exists(ctx, published.Reference()); err != nil || !ok {
		t.Errorf("Exists(published) = %v, %v", ok, err)
	}
	missing, _ := coord.Resolve("6")
	if ok, err := checker.Exists(ctx, missing.Reference()); err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
}
