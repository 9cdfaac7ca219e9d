// Copyright 2025 Certen Protocol
//
// Kernel Configuration Loader
//
// Loads the engine/monitor/persistence Options from a YAML file with
// environment variable substitution, or straight from the environment.
// Grounded on this codebase's prior anchor-config loader: same
// ${VAR_NAME} / ${VAR_NAME:-default} substitution pattern, same
// load-then-apply-defaults shape.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// KernelConfig is the enumerated Options surface: what the enforcement
// monitor, persistence layer, and ledger need at startup.
type KernelConfig struct {
	EnableEnforcement    bool    `yaml:"enable_enforcement"`
	EnablePersistence    bool    `yaml:"enable_persistence"`
	SnapshotPath         string  `yaml:"snapshot_path"`
	AutoSaveIntervalMs   uint64  `yaml:"auto_save_interval_ms"`
	DifficultyBits       uint32  `yaml:"difficulty_bits"`
	ClockSkewToleranceMs uint64  `yaml:"clock_skew_tolerance_ms"`
	MonitorTickMs        uint64  `yaml:"monitor_tick_ms"`
	// KVMirrorDir, when non-empty, is the directory for a durable
	// GoLevelDB mirror of sealed blocks (see pkg/kvdb). Empty means the
	// ledger stays in-memory-only, mirrored nowhere.
	KVMirrorDir string `yaml:"kv_mirror_dir"`
}

// defaults per the enumerated Options: enforcement on, persistence off,
// difficulty 2, clock skew tolerance 2s, monitor tick 1s.
func defaults() KernelConfig {
	return KernelConfig{
		EnableEnforcement:    true,
		EnablePersistence:    false,
		DifficultyBits:       2,
		ClockSkewToleranceMs: 2000,
		MonitorTickMs:        1000,
	}
}

// Load reads path as YAML, substituting ${VAR} / ${VAR:-default}
// environment references before parsing, and fills unset fields with
// defaults.
func Load(path string) (*KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a KernelConfig directly from environment variables,
// for deployments that skip a YAML file entirely.
func LoadFromEnv() (*KernelConfig, error) {
	cfg := defaults()
	cfg.EnableEnforcement = getEnvBool("ZT_ENABLE_ENFORCEMENT", cfg.EnableEnforcement)
	cfg.EnablePersistence = getEnvBool("ZT_ENABLE_PERSISTENCE", cfg.EnablePersistence)
	cfg.SnapshotPath = getEnv("ZT_SNAPSHOT_PATH", cfg.SnapshotPath)
	cfg.AutoSaveIntervalMs = getEnvUint64("ZT_AUTO_SAVE_INTERVAL_MS", cfg.AutoSaveIntervalMs)
	cfg.DifficultyBits = uint32(getEnvUint64("ZT_DIFFICULTY_BITS", uint64(cfg.DifficultyBits)))
	cfg.ClockSkewToleranceMs = getEnvUint64("ZT_CLOCK_SKEW_TOLERANCE_MS", cfg.ClockSkewToleranceMs)
	cfg.MonitorTickMs = getEnvUint64("ZT_MONITOR_TICK_MS", cfg.MonitorTickMs)
	cfg.KVMirrorDir = getEnv("ZT_KV_MIRROR_DIR", cfg.KVMirrorDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would make the engine or
// monitor misbehave silently.
func (c *KernelConfig) Validate() error {
	var problems []string

	if c.EnablePersistence && strings.TrimSpace(c.SnapshotPath) == "" {
		problems = append(problems, "snapshot_path is required when enable_persistence is true")
	}
	if c.MonitorTickMs == 0 {
		problems = append(problems, "monitor_tick_ms must be positive")
	}
	if c.DifficultyBits > 32 {
		problems = append(problems, "difficulty_bits above 32 is not a realistic proof-of-work target")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid kernel configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ==============================================================================
// Environment Variable Substitution
// ==============================================================================

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ==============================================================================
// Environment Helpers
//
// Plain os.Getenv wrappers: no third-party env-parsing library in the
// dependency set covers typed defaults more simply than this, so these
// stay on the standard library.
// ==============================================================================

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
