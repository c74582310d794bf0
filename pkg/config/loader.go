package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates a JobConfig ready for use.
//
// Steps:
//  1. Start from the built-in defaults.
//  2. Load veritas.yaml from configDir, if present, and merge it on top.
//  3. Apply the environment variables recognized by the core, overriding
//     anything still unset (or explicitly present in the environment).
//  4. Apply veritas.local.toml, if present, for operator-local overrides.
//  5. Validate the result.
func Initialize(_ context.Context, configDir string) (*JobConfig, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg := DefaultJobConfig()

	if err := mergeYAMLFile(cfg, filepath.Join(configDir, "veritas.yaml")); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := applyLocalOverride(cfg, filepath.Join(configDir, "veritas.local.toml")); err != nil {
		return nil, err
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"max_concurrency", cfg.MaxConcurrency,
		"max_slices", cfg.MaxSlices,
		"slice_deadline", cfg.SliceDeadline)

	return cfg, nil
}

func mergeYAMLFile(cfg *JobConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var sys SystemConfig
	if err := yaml.Unmarshal(data, &sys); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if sys.Job == nil {
		return nil
	}

	if err := mergo.Merge(cfg, sys.Job, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}

	return nil
}

func applyLocalOverride(cfg *JobConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}

	var override LocalOverride
	if _, err := toml.Decode(string(data), &override); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidTOML, err))
	}

	if override.MaxConcurrency != nil {
		cfg.MaxConcurrency = *override.MaxConcurrency
	}
	if override.MaxSlices != nil {
		cfg.MaxSlices = *override.MaxSlices
	}
	if override.DatabaseURL != nil {
		cfg.DatabaseURL = *override.DatabaseURL
	}

	return nil
}

// applyEnv overrides cfg with the environment variables recognized by the
// core (spec §6). Each is optional; unset variables leave the existing value
// (default or YAML-derived) in place.
func applyEnv(cfg *JobConfig) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	durFields := []struct {
		env string
		dst *time.Duration
		ms  bool
	}{
		{"JOB_BUDGET_WALLCLOCK_MS", &cfg.JobBudgetWallclock, true},
		{"SLICE_DEADLINE_MS", &cfg.SliceDeadline, true},
		{"ADAPTER_TIMEOUT_MS", &cfg.AdapterTimeout, true},
		{"SOURCE_CACHE_TTL_MS", &cfg.SourceCacheTTL, true},
		{"LEASE_MS", &cfg.LeaseDuration, true},
	}
	for _, f := range durFields {
		raw := os.Getenv(f.env)
		if raw == "" {
			continue
		}
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = time.Duration(ms) * time.Millisecond
	}

	intFields := []struct {
		env string
		dst *int
	}{
		{"JOB_BUDGET_ADAPTER_CALLS", &cfg.JobBudgetAdapterCalls},
		{"MAX_CONCURRENCY", &cfg.MaxConcurrency},
		{"MAX_SLICES", &cfg.MaxSlices},
		{"MAX_REFLECTION_LOOPS", &cfg.MaxReflectionLoops},
		{"MAX_TASK_ATTEMPTS", &cfg.MaxTaskAttempts},
	}
	for _, f := range intFields {
		raw := os.Getenv(f.env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = n
	}

	return nil
}
