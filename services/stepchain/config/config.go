// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the StepChain service configuration.
//
// Configuration is a single YAML file merged with STEPCHAIN_* environment
// overrides. The file is created with defaults on first run, so a fresh
// install works with zero configuration and the file documents every knob.
// Precedence, lowest to highest: defaults, YAML file, environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// DefaultPath is where Load looks when the caller passes an empty path.
const DefaultPath = "~/.stepchain/stepchain.yaml"

// validate is the package validator, extended with the custom rules in
// init().
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("taskkind", func(fl validator.FieldLevel) bool {
		_, err := datatypes.ParseTaskKind(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("oraclebackend", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "openai", "ollama", "noop":
			return true
		}
		return false
	})
}

// Duration wraps time.Duration so YAML can carry values like "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Journal JournalConfig `yaml:"journal"`
	Planner PlannerConfig `yaml:"planner"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// GinMode is debug, release, or test. Empty defers to GIN_MODE.
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// OTelEndpoint is the OTLP/gRPC collector address. Tracing is
	// best-effort: an unreachable collector is logged and ignored.
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// EngineConfig covers the convergence tunables.
type EngineConfig struct {
	// MaxSteps caps steps per session. Zero keeps the per-task-kind
	// defaults (12 normal, 10 report, 8 slide).
	MaxSteps int `yaml:"max_steps" validate:"min=0,max=64"`

	// QualityThreshold is the stability rule's minimum score.
	QualityThreshold float64 `yaml:"quality_threshold" validate:"min=0,max=1"`

	// StabilityWindow is how many trailing scores the stability rule
	// inspects.
	StabilityWindow int `yaml:"stability_window" validate:"min=0,max=16"`

	// SessionTTL is how long idle sessions and chains survive.
	SessionTTL Duration `yaml:"session_ttl"`

	// EssentialKeywords overrides the coverage rule's keyword set.
	EssentialKeywords []string `yaml:"essential_keywords"`
}

// OracleConfig selects and bounds the generation backend.
type OracleConfig struct {
	// Backend is openai, ollama, or noop.
	Backend string `yaml:"backend" validate:"oraclebackend"`

	// RequestsPerSecond throttles oracle calls. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`

	// Burst is the limiter's bucket size when limiting is on.
	Burst int `yaml:"burst" validate:"min=0"`
}

// JournalConfig covers the execution log.
type JournalConfig struct {
	// Dir holds one .jsonl file per (chain, session). Empty falls back
	// to a directory under the system temp dir.
	Dir string `yaml:"dir"`
}

// PlannerConfig covers step-plan generation.
type PlannerConfig struct {
	// TemplateDir holds per-task-kind fallback plan templates. Empty
	// uses the built-in plans.
	TemplateDir string `yaml:"template_dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:         12310,
			OTelEndpoint: "localhost:4317",
		},
		Engine: EngineConfig{
			QualityThreshold: 0.85,
			StabilityWindow:  2,
			SessionTTL:       Duration(time.Hour),
		},
		Oracle: OracleConfig{
			Backend: "noop",
		},
		Journal: JournalConfig{},
		Planner: PlannerConfig{},
	}
}

// Load reads the configuration at path, creating it with defaults on first
// run, then applies STEPCHAIN_* environment overrides and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path = expandHome(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Engine.SessionTTL < 0 {
		return fmt.Errorf("invalid configuration: session_ttl must not be negative")
	}
	return nil
}

// applyEnv merges STEPCHAIN_* environment overrides onto c.
func (c *Config) applyEnv() error {
	if v := os.Getenv("STEPCHAIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STEPCHAIN_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("STEPCHAIN_OTEL_ENDPOINT"); v != "" {
		c.Server.OTelEndpoint = v
	}
	if v := os.Getenv("STEPCHAIN_ORACLE_BACKEND"); v != "" {
		c.Oracle.Backend = v
	}
	if v := os.Getenv("STEPCHAIN_LOG_DIR"); v != "" {
		c.Journal.Dir = v
	}
	if v := os.Getenv("STEPCHAIN_TEMPLATE_DIR"); v != "" {
		c.Planner.TemplateDir = v
	}
	if v := os.Getenv("STEPCHAIN_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STEPCHAIN_MAX_STEPS %q: %w", v, err)
		}
		c.Engine.MaxSteps = n
	}
	if v := os.Getenv("STEPCHAIN_QUALITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid STEPCHAIN_QUALITY_THRESHOLD %q: %w", v, err)
		}
		c.Engine.QualityThreshold = f
	}
	if v := os.Getenv("STEPCHAIN_STABILITY_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STEPCHAIN_STABILITY_WINDOW %q: %w", v, err)
		}
		c.Engine.StabilityWindow = n
	}
	if v := os.Getenv("STEPCHAIN_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STEPCHAIN_SESSION_TTL %q: %w", v, err)
		}
		c.Engine.SessionTTL = Duration(d)
	}
	return nil
}

// writeDefault materializes the default config at path on first run.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
