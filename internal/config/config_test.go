package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneKnobs(t *testing.T) {
	cfg := Default()
	if cfg.ActiveProvider != "anthropic" {
		t.Fatalf("expected anthropic as default active provider, got %q", cfg.ActiveProvider)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		t.Fatalf("expected a positive retry attempt count")
	}
	if cfg.Snapshot.MaxPerFile <= 0 {
		t.Fatalf("expected a positive snapshot retention count")
	}
}

func TestLoadMergesOverFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	contents := `
active_provider: openai
tools:
  stdout_max_line_length: 500
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActiveProvider != "openai" {
		t.Fatalf("expected active_provider to be overridden, got %q", cfg.ActiveProvider)
	}
	if cfg.Tools.StdoutMaxLineLength != 500 {
		t.Fatalf("expected stdout_max_line_length override, got %d", cfg.Tools.StdoutMaxLineLength)
	}
	if cfg.Retry.MaxAttempts != Default().Retry.MaxAttempts {
		t.Fatalf("expected unspecified knobs to keep their default, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	cfg := Default()
	if got := cfg.ResolveAnthropicKey(); got != "test-key" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRaw(a); err == nil {
		t.Fatal("expected an include-cycle error")
	}
}
