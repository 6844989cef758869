// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if !cfg.Bridge.Enabled {
		t.Error("expected bridge enabled by default")
	}
	if cfg.Bridge.Prefix != "ASP_" {
		t.Errorf("expected prefix=ASP_, got %q", cfg.Bridge.Prefix)
	}
	if cfg.Bridge.Encoding != EncodingHandle {
		t.Errorf("expected encoding=handle, got %q", cfg.Bridge.Encoding)
	}
	if len(cfg.Bridge.LegacyExtensions) != 1 || cfg.Bridge.LegacyExtensions[0] != ".asp" {
		t.Errorf("expected legacy_extensions=[.asp], got %v", cfg.Bridge.LegacyExtensions)
	}

	t.Setenv("HOSTBRIDGE_RUNTIME", "/run/hb")
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
	if cfg.Endpoint.SocketPath != "/run/hb/endpoint.sock" {
		t.Errorf("expected socket_path=/run/hb/endpoint.sock, got %s", cfg.Endpoint.SocketPath)
	}
}

func TestLoad_RequiresHostbridgeConfig(t *testing.T) {
	t.Setenv("HOSTBRIDGE_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when HOSTBRIDGE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "HOSTBRIDGE_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "hostbridge.yaml", `
environment: staging
bridge:
  prefix: LEGACY_
  encoding: envelope
  legacy_extensions: [.asp, .asa]
endpoint:
  socket_path: ${HOSTBRIDGE_RUNTIME}/calls.sock
session:
  idle_timeout: 5m
`)
	t.Setenv("HOSTBRIDGE_CONFIG", path)
	t.Setenv("HOSTBRIDGE_RUNTIME", "/srv/hb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Bridge.Prefix != "LEGACY_" {
		t.Errorf("expected prefix=LEGACY_, got %q", cfg.Bridge.Prefix)
	}
	if cfg.Bridge.Encoding != EncodingEnvelope {
		t.Errorf("expected encoding=envelope, got %q", cfg.Bridge.Encoding)
	}
	if len(cfg.Bridge.LegacyExtensions) != 2 {
		t.Errorf("expected two legacy extensions, got %v", cfg.Bridge.LegacyExtensions)
	}
	if cfg.Endpoint.SocketPath != "/srv/hb/calls.sock" {
		t.Errorf("expected expanded socket path, got %s", cfg.Endpoint.SocketPath)
	}
	// Values absent from the file keep their defaults.
	if cfg.Bridge.SessionHeader != "Hostbridge-Session-Ref" {
		t.Errorf("expected default session header, got %q", cfg.Bridge.SessionHeader)
	}
	if got := cfg.Session.IdleTimeoutDuration(); got != 5*time.Minute {
		t.Errorf("expected idle timeout 5m, got %s", got)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "hostbridge.jsonc", `{
  // Comments and trailing commas are accepted.
  "bridge": {
    "prefix": "CLASSIC_",
    "application_id": "portal",
  },
  "http": {"listen": "127.0.0.1:9000"},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Bridge.Prefix != "CLASSIC_" {
		t.Errorf("expected prefix=CLASSIC_, got %q", cfg.Bridge.Prefix)
	}
	if cfg.Bridge.ApplicationID != "portal" {
		t.Errorf("expected application_id=portal, got %q", cfg.Bridge.ApplicationID)
	}
	if cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Errorf("expected listen=127.0.0.1:9000, got %q", cfg.HTTP.Listen)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "broken.yaml", "bridge: [unterminated\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantEnabled bool
		wantPrefix  string
	}{
		{
			name: "development section applies",
			content: `
environment: development
development:
  bridge:
    prefix: DEV_
`,
			wantEnabled: true,
			wantPrefix:  "DEV_",
		},
		{
			name: "other sections ignored",
			content: `
environment: development
staging:
  bridge:
    prefix: STAGE_
`,
			wantEnabled: true,
			wantPrefix:  "ASP_",
		},
		{
			name: "production keeps the bridge enabled by default",
			content: `
environment: production
`,
			wantEnabled: true,
			wantPrefix:  "ASP_",
		},
		{
			name: "production keeps a top-level enabled",
			content: `
environment: production
bridge:
  enabled: true
`,
			wantEnabled: true,
			wantPrefix:  "ASP_",
		},
		{
			name: "production section can disable the bridge",
			content: `
environment: production
bridge:
  enabled: true
production:
  bridge:
    enabled: false
`,
			wantEnabled: false,
			wantPrefix:  "ASP_",
		},
		{
			name: "production section applies",
			content: `
environment: production
production:
  bridge:
    enabled: true
    prefix: PROD_
`,
			wantEnabled: true,
			wantPrefix:  "PROD_",
		},
		{
			name: "staging can disable the bridge",
			content: `
environment: staging
staging:
  bridge:
    enabled: false
`,
			wantEnabled: false,
			wantPrefix:  "ASP_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile(writeConfig(t, "hostbridge.yaml", tt.content))
			if err != nil {
				t.Fatalf("LoadFile() failed: %v", err)
			}
			if cfg.Bridge.Enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", cfg.Bridge.Enabled, tt.wantEnabled)
			}
			if cfg.Bridge.Prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", cfg.Bridge.Prefix, tt.wantPrefix)
			}
		})
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("HB_TEST_HOST", "10.0.0.7")
	t.Setenv("HB_TEST_EMPTY", "")

	vars := map[string]string{"HOSTBRIDGE_RUNTIME": "/run/hb"}
	tests := []struct {
		input string
		want  string
	}{
		{"${HOSTBRIDGE_RUNTIME}/endpoint.sock", "/run/hb/endpoint.sock"},
		{"${HB_TEST_HOST}:8642", "10.0.0.7:8642"},
		{"${HB_TEST_EMPTY:-127.0.0.1}:8642", "127.0.0.1:8642"},
		{"${HB_TEST_UNSET_VARIABLE}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.input, vars); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: true,
		},
		{
			name:    "unknown encoding",
			modify:  func(c *Config) { c.Bridge.Encoding = "pickle" },
			wantErr: true,
		},
		{
			name:    "same header twice",
			modify:  func(c *Config) { c.Bridge.ComponentHeader = "hostbridge-session-ref" },
			wantErr: true,
		},
		{
			name:    "extension without dot",
			modify:  func(c *Config) { c.Bridge.LegacyExtensions = []string{"asp"} },
			wantErr: true,
		},
		{
			name:    "empty socket path",
			modify:  func(c *Config) { c.Endpoint.SocketPath = "" },
			wantErr: true,
		},
		{
			name:    "relative metrics path",
			modify:  func(c *Config) { c.HTTP.MetricsPath = "metrics" },
			wantErr: true,
		},
		{
			name:    "metrics disabled",
			modify:  func(c *Config) { c.HTTP.MetricsPath = "" },
			wantErr: false,
		},
		{
			name:    "bad idle timeout",
			modify:  func(c *Config) { c.Session.IdleTimeout = "soon" },
			wantErr: true,
		},
		{
			name:    "zero idle timeout",
			modify:  func(c *Config) { c.Session.IdleTimeout = "0s" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureRuntimeDir(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.SocketPath = filepath.Join(t.TempDir(), "nested", "run", "endpoint.sock")

	if err := cfg.EnsureRuntimeDir(); err != nil {
		t.Fatalf("EnsureRuntimeDir failed: %v", err)
	}
	info, err := os.Stat(filepath.Dir(cfg.Endpoint.SocketPath))
	if err != nil {
		t.Fatalf("runtime directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("runtime path is not a directory")
	}
}
