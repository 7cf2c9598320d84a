package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SamplingIntervalSeconds != 5 {
		t.Errorf("SamplingIntervalSeconds = %d, want 5", cfg.SamplingIntervalSeconds)
	}
	if cfg.L3.MaxPolls != 15 {
		t.Errorf("L3.MaxPolls = %d, want 15", cfg.L3.MaxPolls)
	}
}

func TestLoad_OverridesSomeFieldsKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
sampling_interval_seconds: 10
decision:
  warning_threshold: 50
  critical_threshold: 70
  min_categories_for_critical: 3
metrics:
  memory_usage:
    enabled: true
    warning_threshold: 0.85
    critical_threshold: 0.92
    warning_score: 10
    critical_score: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SamplingIntervalSeconds != 10 {
		t.Errorf("SamplingIntervalSeconds = %d, want 10", cfg.SamplingIntervalSeconds)
	}
	if cfg.TimeWindowSeconds != 60 {
		t.Errorf("TimeWindowSeconds = %d, want default 60", cfg.TimeWindowSeconds)
	}
	if cfg.Metrics.Decision.WarningThreshold != 50 {
		t.Errorf("Metrics.Decision.WarningThreshold = %d, want 50", cfg.Metrics.Decision.WarningThreshold)
	}
	if cfg.Metrics.MemoryUsage.WarningThreshold != 0.85 {
		t.Errorf("Metrics.MemoryUsage.WarningThreshold = %v, want 0.85", cfg.Metrics.MemoryUsage.WarningThreshold)
	}
	// Untouched category keeps its default.
	if !cfg.Metrics.CPUUtilization.Enabled || cfg.Metrics.CPUUtilization.WarningThreshold != 0.80 {
		t.Errorf("CPUUtilization rule was not preserved from defaults: %+v", cfg.Metrics.CPUUtilization)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "not: [valid: yaml")

	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.SamplingIntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for sampling_interval_seconds = 0")
	}

	cfg = Defaults()
	cfg.L3.MaxPolls = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for negative l3.max_polls")
	}

	cfg = Defaults()
	cfg.WorkerPoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for worker_pool_size = 0")
	}
}

func TestLoadWhitelist_EmptyPath(t *testing.T) {
	wl, err := LoadWhitelist("")
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(wl.TrustedProcesses) != 0 || len(wl.ExactMatches) != 0 {
		t.Error("expected an empty whitelist config for an empty path")
	}
}

func TestLoadWhitelist_ParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.yaml")
	content := `
trusted_processes:
  - chrome
  - java
exact_matches:
  - sshd
user_whitelist:
  - myinternaltool
options:
  skip_system_processes: true
  skip_low_cpu_processes: true
  cpu_threshold: 1.0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	wl, err := LoadWhitelist(path)
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(wl.TrustedProcesses) != 2 {
		t.Errorf("TrustedProcesses = %v, want 2 entries", wl.TrustedProcesses)
	}
	if !wl.Options.SkipSystemProcesses {
		t.Error("expected SkipSystemProcesses to be true")
	}
	if wl.Options.CPUThreshold != 1.0 {
		t.Errorf("CPUThreshold = %v, want 1.0", wl.Options.CPUThreshold)
	}
}
