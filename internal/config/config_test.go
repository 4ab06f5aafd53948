package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8190" || cfg.TunnelBindAddr != "127.0.0.1:8191" {
		t.Fatalf("unexpected bind addresses %q %q", cfg.BindAddr, cfg.TunnelBindAddr)
	}
	if cfg.DBPath != filepath.Join("./apiscope_data", "apiscope.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Limits.ClientMaxBodyBytes != 5120 || cfg.Limits.ServerMaxBodyBytes != 51200 {
		t.Fatalf("unexpected body limits %+v", cfg.Limits)
	}
	if cfg.Limits.MaxURLChars != 2000 || cfg.Limits.MaxHeaderBytes != 2048 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.UpstreamTimeout() != 30*time.Second {
		t.Fatalf("UpstreamTimeout = %v", cfg.UpstreamTimeout())
	}
	if cfg.AllowPrivate {
		t.Fatal("private destinations must be off by default")
	}
	if got, want := cfg.LogEndpoint(), "http://127.0.0.1:8190/api/v1/capture/log"; got != want {
		t.Fatalf("LogEndpoint = %q; want %q", got, want)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APISCOPE_DATA_DIR", "/var/lib/apiscope")
	t.Setenv("APISCOPE_PUBLIC_URL", "https://scope.example.com/")
	t.Setenv("APISCOPE_SERVER_MAX_BODY_BYTES", "1024")
	t.Setenv("APISCOPE_UPSTREAM_TIMEOUT_MS", "10")
	t.Setenv("APISCOPE_INGRESS_RATE", "2.5")
	t.Setenv("APISCOPE_ALLOW_PRIVATE", "true")
	t.Setenv("APISCOPE_LOG_LEVEL", "DEBUG")
	t.Setenv("APISCOPE_BUFFER_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBPath != filepath.Join("/var/lib/apiscope", "apiscope.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.PublicURL != "https://scope.example.com" {
		t.Fatalf("PublicURL = %q", cfg.PublicURL)
	}
	if cfg.Limits.ServerMaxBodyBytes != 1024 {
		t.Fatalf("ServerMaxBodyBytes = %d", cfg.Limits.ServerMaxBodyBytes)
	}
	if cfg.UpstreamTimeoutMS != 1000 {
		t.Fatalf("timeout must be clamped to 1000ms, got %d", cfg.UpstreamTimeoutMS)
	}
	if cfg.IngressRate != 2.5 || !cfg.AllowPrivate || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.BufferSize != 5000 {
		t.Fatalf("invalid int must fall back to default, got %d", cfg.BufferSize)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("APISCOPE_DESCRIBE_URL=http://llm.local/complete\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APISCOPE_DESCRIBE_URL", "")
	os.Unsetenv("APISCOPE_DESCRIBE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DescribeURL != "http://llm.local/complete" {
		t.Fatalf("DescribeURL = %q", cfg.DescribeURL)
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	path := writePolicy(t, "blocked_domains:\n  - evil.example\nallowed_domains:\n  - api.example.com\n")
	pf, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile() error = %v", err)
	}
	if len(pf.BlockedDomains) != 1 || pf.BlockedDomains[0] != "evil.example" {
		t.Fatalf("blocked = %v", pf.BlockedDomains)
	}
	if len(pf.AllowedDomains) != 1 || pf.AllowedDomains[0] != "api.example.com" {
		t.Fatalf("allowed = %v", pf.AllowedDomains)
	}
}

func TestLoadPolicyFileRejectsEmptyEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"blocked", "blocked_domains:\n  - \"\"\n", "blocked_domains[0]"},
		{"allowed", "allowed_domains:\n  - ok.example\n  - \"  \"\n", "allowed_domains[1]"},
		{"malformed", "blocked_domains: [", "policy config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPolicyFile(writePolicy(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v; want to contain %q", err, tt.want)
			}
		})
	}
}

func TestPolicyAppliesFile(t *testing.T) {
	cfg := &Config{PolicyFile: writePolicy(t, "blocked_domains:\n  - blocked.example\n")}
	pol, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	res := pol.Validate(context.Background(), "https://api.blocked.example/v1")
	if res.Valid {
		t.Fatal("subdomain of a blocked domain must be rejected")
	}
}

func TestPolicyMissingFileIsOptional(t *testing.T) {
	cfg := &Config{PolicyFile: filepath.Join(t.TempDir(), "absent.yaml"), AllowPrivate: true}
	pol, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if res := pol.Validate(context.Background(), "http://127.0.0.1:9000"); !res.Valid {
		t.Fatalf("AllowPrivate policy rejected loopback: %s", res.Error)
	}
}
