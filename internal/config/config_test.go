package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `aws:
  object_store_region: us-west-2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShellExecutor.MaxIterations != 25 {
		t.Fatalf("expected default max iterations 25, got %d", cfg.ShellExecutor.MaxIterations)
	}
	if cfg.ShellExecutor.MaxDurationSeconds != 14*60 {
		t.Fatalf("expected default wall-clock budget 840s, got %d", cfg.ShellExecutor.MaxDurationSeconds)
	}
	if cfg.CodeInterpreter.MemoryLimitGB != 64 {
		t.Fatalf("expected default memory limit 64, got %d", cfg.CodeInterpreter.MemoryLimitGB)
	}
	if cfg.AWS.RecordStoreRegion != "us-west-2" {
		t.Fatalf("expected record store region to fall back to object store region, got %q", cfg.AWS.RecordStoreRegion)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `aws:
  object_store_region: us-east-1
  bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `shell_executor:
  max_iterations: 5
`)
	t.Setenv("SHELL_LOOP_MAX_ITERATIONS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShellExecutor.MaxIterations != 9 {
		t.Fatalf("expected env override 9, got %d", cfg.ShellExecutor.MaxIterations)
	}
}

func TestIsLocalFromEnv(t *testing.T) {
	t.Setenv("IS_LOCAL", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsLocal {
		t.Fatalf("expected IsLocal true")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Images.CacheTTL != time.Hour {
		t.Fatalf("expected default cache TTL of 1h, got %v", cfg.Images.CacheTTL)
	}
}

func TestLoadRejectsUnknownLoggingFormat(t *testing.T) {
	path := writeConfig(t, `logging:
  format: xml
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for unsupported logging format")
	}
}
