// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesDefaultsAndSubstitutesEnv(t *testing.T) {
	t.Setenv("ZT_TEST_SNAPSHOT_DIR", "/var/lib/zerotrust")

	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	contents := `
enable_persistence: true
snapshot_path: ${ZT_TEST_SNAPSHOT_DIR}/state.json
difficulty_bits: 4
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.SnapshotPath != "/var/lib/zerotrust/state.json" {
		t.Fatalf("expected env substitution in snapshot_path, got %q", cfg.SnapshotPath)
	}
	if cfg.DifficultyBits != 4 {
		t.Fatalf("expected difficulty_bits 4, got %d", cfg.DifficultyBits)
	}
	if !cfg.EnableEnforcement {
		t.Fatalf("expected enable_enforcement to default true")
	}
	if cfg.ClockSkewToleranceMs != 2000 {
		t.Fatalf("expected default clock_skew_tolerance_ms 2000, got %d", cfg.ClockSkewToleranceMs)
	}
	if cfg.MonitorTickMs != 1000 {
		t.Fatalf("expected default monitor_tick_ms 1000, got %d", cfg.MonitorTickMs)
	}
}

func TestLoad_PersistenceWithoutPathRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	if err := os.WriteFile(path, []byte("enable_persistence: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error when enable_persistence is true without snapshot_path")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ZT_ENABLE_ENFORCEMENT", "false")
	t.Setenv("ZT_DIFFICULTY_BITS", "6")
	t.Setenv("ZT_MONITOR_TICK_MS", "500")
	t.Setenv("ZT_KV_MIRROR_DIR", "/var/lib/zerotrust/mirror")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.EnableEnforcement {
		t.Fatalf("expected enable_enforcement false from env override")
	}
	if cfg.DifficultyBits != 6 {
		t.Fatalf("expected difficulty_bits 6, got %d", cfg.DifficultyBits)
	}
	if cfg.MonitorTickMs != 500 {
		t.Fatalf("expected monitor_tick_ms 500, got %d", cfg.MonitorTickMs)
	}
	if cfg.KVMirrorDir != "/var/lib/zerotrust/mirror" {
		t.Fatalf("expected kv_mirror_dir override, got %q", cfg.KVMirrorDir)
	}
}
