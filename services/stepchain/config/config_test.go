// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepchain.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.Equal(t, "noop", cfg.Oracle.Backend)
	assert.Equal(t, time.Hour, cfg.Engine.SessionTTL.Std())
	assert.Equal(t, 0.85, cfg.Engine.QualityThreshold)
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepchain.yaml")
	body := `
server:
  port: 9001
engine:
  max_steps: 5
  session_ttl: 30m
oracle:
  backend: ollama
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Engine.MaxSteps)
	assert.Equal(t, 30*time.Minute, cfg.Engine.SessionTTL.Std())
	assert.Equal(t, "ollama", cfg.Oracle.Backend)
	// Untouched fields keep their defaults.
	assert.Equal(t, 2, cfg.Engine.StabilityWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepchain.yaml")
	t.Setenv("STEPCHAIN_PORT", "8123")
	t.Setenv("STEPCHAIN_ORACLE_BACKEND", "openai")
	t.Setenv("STEPCHAIN_SESSION_TTL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Oracle.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Engine.SessionTTL.Std())
}

func TestLoad_RejectsBadEnvValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepchain.yaml")
	t.Setenv("STEPCHAIN_PORT", "not-a-port")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepchain.yaml")
	t.Setenv("STEPCHAIN_ORACLE_BACKEND", "carrier-pigeon")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.QualityThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	d := Duration(90 * time.Minute)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", out)
}
