package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Sandbox.Runner != RunnerLocal {
		t.Fatalf("expected local runner, got %q", cfg.Sandbox.Runner)
	}
	if cfg.Sandbox.InfrastructureTimeout != 15*time.Second || cfg.Sandbox.UserCodeTimeout != 45*time.Second {
		t.Fatalf("unexpected default budgets: %+v", cfg.Sandbox)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SANDBOX_RUNNER", "Docker")
	t.Setenv("SANDBOX_USER_CODE_TIMEOUT", "10s")
	t.Setenv("SANDBOX_LAUNCH_GRACE", "true")
	t.Setenv("SANDBOX_DEFAULT_USINGS", "fmt, strings,,os")
	t.Setenv("SANDBOX_CONTAINER", "box-1")
	t.Setenv("SANDBOX_CONTAINERS", "box-2,box-3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Sandbox.Runner != RunnerDocker {
		t.Fatalf("expected docker runner, got %q", cfg.Sandbox.Runner)
	}
	if cfg.Sandbox.UserCodeTimeout != 10*time.Second {
		t.Fatalf("expected 10s user code timeout, got %s", cfg.Sandbox.UserCodeTimeout)
	}
	if !cfg.Sandbox.LaunchGrace {
		t.Fatalf("expected launch grace enabled")
	}
	want := []string{"fmt", "strings", "os"}
	if len(cfg.Sandbox.DefaultUsings) != len(want) {
		t.Fatalf("expected usings %v, got %v", want, cfg.Sandbox.DefaultUsings)
	}
	for i := range want {
		if cfg.Sandbox.DefaultUsings[i] != want[i] {
			t.Fatalf("expected usings %v, got %v", want, cfg.Sandbox.DefaultUsings)
		}
	}
	pool := cfg.Sandbox.Docker.Pool()
	if len(pool) != 3 || pool[0] != "box-1" || pool[2] != "box-3" {
		t.Fatalf("expected pool [box-1 box-2 box-3], got %v", pool)
	}
}

func TestMalformedEnvKeepsFallback(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("SANDBOX_INFRA_TIMEOUT", "soon")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.Sandbox.InfrastructureTimeout != 15*time.Second {
		t.Fatalf("expected defaults to survive malformed values, got %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 7000
sandbox:
  runner: docker
  job_dir: /var/lib/snippets
  infrastructure_timeout: 5s
  user_code_timeout: 20s
  docker:
    container: sandbox-a
  default_usings: [fmt, sort]
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7000 {
		t.Fatalf("expected port 7000, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Fatalf("expected default host to survive, got %q", cfg.HTTP.Host)
	}
	if cfg.Sandbox.JobDir != "/var/lib/snippets" || cfg.Sandbox.Docker.Container != "sandbox-a" {
		t.Fatalf("unexpected sandbox section: %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Docker.Binary != "docker" {
		t.Fatalf("expected default docker binary, got %q", cfg.Sandbox.Docker.Binary)
	}
	if cfg.Sandbox.InfrastructureTimeout != 5*time.Second || cfg.Sandbox.UserCodeTimeout != 20*time.Second {
		t.Fatalf("unexpected budgets: %s / %s", cfg.Sandbox.InfrastructureTimeout, cfg.Sandbox.UserCodeTimeout)
	}
	if len(cfg.Sandbox.DefaultUsings) != 2 {
		t.Fatalf("expected two usings, got %v", cfg.Sandbox.DefaultUsings)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log section: %+v", cfg.Log)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 7000\n")
	t.Setenv("HTTP_PORT", "7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7001 {
		t.Fatalf("expected env to win, got %d", cfg.HTTP.Port)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected defaults, got port %d", cfg.HTTP.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "http:\n  prot: 80\n"},
		{name: "port out of range", body: "http:\n  port: 70000\n"},
		{name: "unknown runner", body: "sandbox:\n  runner: vm\n"},
		{name: "empty job dir", body: "sandbox:\n  job_dir: \" \"\n"},
		{name: "zero budget", body: "sandbox:\n  user_code_timeout: 0s\n"},
		{name: "write timeout too short", body: "http:\n  write_timeout: 30s\n"},
		{name: "write timeout leaves no launch grace", body: "http:\n  write_timeout: 61s\nsandbox:\n  launch_grace: true\n"},
		{name: "unknown log format", body: "log:\n  format: xml\n"},
		{name: "docker without containers", body: "sandbox:\n  runner: docker\n  docker:\n    container: \"\"\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestCeilingAndKillAfter(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		ceiling   budget.Ceiling
		killAfter time.Duration
	}{
		{
			name:      "local runner",
			mutate:    func(*Config) {},
			ceiling:   budget.Ceiling{Total: 75 * time.Second},
			killAfter: 77 * time.Second,
		},
		{
			name: "launch grace reserves room",
			mutate: func(c *Config) {
				c.Sandbox.LaunchGrace = true
			},
			ceiling:   budget.Ceiling{Total: 73 * time.Second},
			killAfter: 77 * time.Second,
		},
		{
			name: "docker",
			mutate: func(c *Config) {
				c.Sandbox.Runner = RunnerDocker
			},
			ceiling:   budget.Ceiling{Total: 75 * time.Second, Each: 75 * time.Second},
			killAfter: 77 * time.Second,
		},
		{
			name: "docker without write timeout",
			mutate: func(c *Config) {
				c.Sandbox.Runner = RunnerDocker
				c.HTTP.WriteTimeout = 0
			},
			ceiling:   budget.Ceiling{Each: 45 * time.Second},
			killAfter: 47 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got := cfg.Ceiling(); got != tt.ceiling {
				t.Fatalf("expected ceiling %+v, got %+v", tt.ceiling, got)
			}
			if got := cfg.KillAfter(); got != tt.killAfter {
				t.Fatalf("expected kill after %s, got %s", tt.killAfter, got)
			}
			if err := cfg.Ceiling().Check(cfg.Sandbox.Budgets()); err != nil {
				t.Fatalf("configured budgets must fit the ceiling: %v", err)
			}
		})
	}
}
