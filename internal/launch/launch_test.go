// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/provkit/provkit/internal/config"
	"github.com/provkit/provkit/internal/testutil"
	"github.com/provkit/provkit/pkg/types"

	"github.com/charmbracelet/log"
)

func TestLoadRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		env      map[string]string
		wantPort types.ListenPort
		wantErr  error
	}{
		{"valid", map[string]string{"PORT": "8000"}, 8000, nil},
		{"upper bound", map[string]string{"PORT": "65535"}, 65535, nil},
		{"unset", map[string]string{}, 0, ErrPortMissing},
		{"empty", map[string]string{"PORT": ""}, 0, ErrPortMissing},
		{"zero", map[string]string{"PORT": "0"}, 0, types.ErrInvalidListenPort},
		{"too large", map[string]string{"PORT": "70000"}, 0, types.ErrInvalidListenPort},
		{"not a number", map[string]string{"PORT": "http"}, 0, types.ErrMalformedListenPort},
		{"padded", map[string]string{"PORT": " 8000"}, 0, types.ErrMalformedListenPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, err := LoadRuntimeConfig(testutil.Lookup(tt.env))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LoadRuntimeConfig() = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadRuntimeConfig() error: %v", err)
			}
			if rc.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", rc.Port, tt.wantPort)
			}
		})
	}
}

func TestRuntimeConfig_Missing(t *testing.T) {
	t.Parallel()

	rc, err := LoadRuntimeConfig(testutil.Lookup(map[string]string{"PORT": "8000", "API_KEY": "", "CLIENT_ID": "id"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := rc.Missing(); !slices.Equal(got, []string{"CLIENT_SECRET"}) {
		t.Errorf("Missing() = %v, want [CLIENT_SECRET]", got)
	}
}

func TestLauncher_Argv(t *testing.T) {
	t.Parallel()

	l := New(config.DefaultConfig().Launch, log.New(io.Discard))
	got := l.Argv(&RuntimeConfig{Port: 8000})
	want := []string{"uvicorn", "provider:app", "--host", "0.0.0.0", "--port", "8000", "--log-level", "trace"}
	if !slices.Equal(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}
}

func TestLauncher_ArgvPinsHostAndLogLevel(t *testing.T) {
	t.Parallel()

	l := New(config.LaunchConfig{Server: "hypercorn", App: "geo:service"}, log.New(io.Discard))
	got := l.Argv(&RuntimeConfig{Port: 9000})
	want := []string{"hypercorn", "geo:service", "--host", BindHost, "--port", "9000", "--log-level", LogLevel}
	if !slices.Equal(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}
	if BindHost != "0.0.0.0" || LogLevel != "trace" {
		t.Errorf("BindHost = %q, LogLevel = %q", BindHost, LogLevel)
	}
}

func TestLauncher_Launch(t *testing.T) {
	t.Parallel()

	var (
		gotPath    string
		gotArgv    []string
		gotEnviron []string
	)
	l := New(config.DefaultConfig().Launch, log.New(io.Discard),
		WithLookPath(func(name string) (string, error) { return "/opt/provider/bin/" + name, nil }),
		WithExec(func(path string, argv, environ []string) error {
			gotPath, gotArgv, gotEnviron = path, argv, environ
			return nil
		}),
	)

	environ := []string{"PORT=9000", "API_KEY=k", "CLIENT_ID=c", "CLIENT_SECRET=s=with=equals", "PATH=/usr/bin"}
	if err := l.Launch(context.Background(), environ); err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if gotPath != "/opt/provider/bin/uvicorn" {
		t.Errorf("path = %q", gotPath)
	}
	if !slices.Contains(gotArgv, "9000") || gotArgv[0] != "uvicorn" {
		t.Errorf("argv = %v", gotArgv)
	}
	if !slices.Equal(gotEnviron, environ) {
		t.Error("environment must be passed through unchanged")
	}
}

func TestLauncher_LaunchErrors(t *testing.T) {
	t.Parallel()

	called := false
	execFn := WithExec(func(string, []string, []string) error {
		called = true
		return nil
	})

	l := New(config.DefaultConfig().Launch, log.New(io.Discard), execFn)
	if err := l.Launch(context.Background(), []string{"API_KEY=k"}); !errors.Is(err, ErrPortMissing) {
		t.Errorf("Launch() without PORT = %v, want ErrPortMissing", err)
	}

	notFound := errors.New("executable file not found in $PATH")
	l = New(config.DefaultConfig().Launch, log.New(io.Discard), execFn,
		WithLookPath(func(string) (string, error) { return "", notFound }))
	if err := l.Launch(context.Background(), []string{"PORT=8000"}); !errors.Is(err, notFound) {
		t.Errorf("Launch() with missing server = %v", err)
	}

	if called {
		t.Error("exec must not run when validation fails")
	}
}
