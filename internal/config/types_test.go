// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestContainerEngine_Validate(t *testing.T) {
	t.Parallel()

	for _, ce := range []ContainerEngine{ContainerEngineDocker, ContainerEnginePodman} {
		if err := ce.Validate(); err != nil {
			t.Errorf("%q.Validate() = %v", ce, err)
		}
	}

	err := ContainerEngine("nerdctl").Validate()
	if !errors.Is(err, ErrInvalidContainerEngine) {
		t.Fatalf("expected ErrInvalidContainerEngine, got %v", err)
	}
	var ceErr *InvalidContainerEngineError
	if !errors.As(err, &ceErr) || ceErr.Value != "nerdctl" {
		t.Errorf("expected InvalidContainerEngineError{nerdctl}, got %#v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantKeys []string
	}{
		{"valid", func(*Config) {}, nil},
		{"empty registry", func(c *Config) { c.Image.Registry = " " }, []string{"image.registry"}},
		{"relative app dir", func(c *Config) { c.Build.AppDir = "app" }, []string{"build.app_dir"}},
		{"app dir equals user base", func(c *Config) { c.Build.AppDir = c.Build.UserBase + "/" }, []string{"build.app_dir"}},
		{"no app files", func(c *Config) { c.Build.AppFiles = nil }, []string{"build.app_files"}},
		{"tag prefix", func(c *Config) { c.Image.TagPrefix = "0.0." }, []string{"image.tag_prefix"}},
		{"empty app", func(c *Config) { c.Launch.App = "" }, []string{"launch.app"}},
		{
			"several",
			func(c *Config) { c.Secrets.Host = ""; c.Launch.Server = "" },
			[]string{"launch.server", "secrets.host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantKeys) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *InvalidConfigError, got %v", err)
			}
			if len(cfgErr.FieldErrors) != len(tt.wantKeys) {
				t.Fatalf("got %d field errors (%v), want %d", len(cfgErr.FieldErrors), err, len(tt.wantKeys))
			}
			for i, key := range tt.wantKeys {
				var fe *InvalidFieldError
				if !errors.As(cfgErr.FieldErrors[i], &fe) || fe.Key != key {
					t.Errorf("field error %d = %v, want key %s", i, cfgErr.FieldErrors[i], key)
				}
			}
		})
	}
}
