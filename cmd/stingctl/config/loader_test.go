// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".sting", "stingctl.yaml")

	err := createDefault(configPath)
	if err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg OrchestratorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.Stack.ProjectName != "sting" {
		t.Errorf("Stack.ProjectName = %q, want %q", cfg.Stack.ProjectName, "sting")
	}
	if cfg.Stack.ContainerPrefix != "sting-" {
		t.Errorf("Stack.ContainerPrefix = %q, want %q", cfg.Stack.ContainerPrefix, "sting-")
	}
	if cfg.Startup.MaxProbeAttempts != 60 {
		t.Errorf("Startup.MaxProbeAttempts = %d, want 60", cfg.Startup.MaxProbeAttempts)
	}
}

// TestCreateDefault_DirectoryCreation verifies directory is created.
func TestCreateDefault_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()

	// Use a nested path
	configPath := filepath.Join(tempDir, "deep", "nested", "path", "stingctl.yaml")

	err := createDefault(configPath)
	if err != nil {
		t.Fatalf("createDefault() failed with nested path: %v", err)
	}

	dirPath := filepath.Dir(configPath)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		t.Fatal("nested directories were not created")
	}
}

// TestLoad_FirstRun verifies a default file is created and loaded.
func TestLoad_FirstRun(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("STING_HOME", tempDir)
	t.Setenv("STING_FRESH_INSTALL", "")
	t.Setenv("STING_OTEL_ENDPOINT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.InstallDir != tempDir {
		t.Errorf("InstallDir = %q, want %q", cfg.InstallDir, tempDir)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "stingctl.yaml")); err != nil {
		t.Errorf("expected config file to be created: %v", err)
	}
}

// TestLoad_SparseFile verifies defaults fill unset fields.
func TestLoad_SparseFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("STING_HOME", tempDir)
	t.Setenv("STING_FRESH_INSTALL", "")
	t.Setenv("STING_OTEL_ENDPOINT", "")

	configPath := filepath.Join(tempDir, "stingctl.yaml")
	sparse := "startup:\n  service_timeout_seconds: 90\n"
	if err := os.WriteFile(configPath, []byte(sparse), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Startup.ServiceTimeoutSeconds != 90 {
		t.Errorf("ServiceTimeoutSeconds = %d, want 90", cfg.Startup.ServiceTimeoutSeconds)
	}
	// Unset fields keep defaults
	if cfg.Stack.NetworkName != "sting_default" {
		t.Errorf("NetworkName = %q, want default %q", cfg.Stack.NetworkName, "sting_default")
	}
	if cfg.Startup.TierTimeoutSeconds != 600 {
		t.Errorf("TierTimeoutSeconds = %d, want default 600", cfg.Startup.TierTimeoutSeconds)
	}
}

// TestLoad_EnvOverrides verifies environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("STING_HOME", tempDir)
	t.Setenv("STING_FRESH_INSTALL", "true")
	t.Setenv("STING_OTEL_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.Startup.FreshInstall {
		t.Error("FreshInstall = false, want true from STING_FRESH_INSTALL")
	}
	if cfg.Observability.OTelEndpoint != "collector:4317" {
		t.Errorf("OTelEndpoint = %q, want %q", cfg.Observability.OTelEndpoint, "collector:4317")
	}
}

// TestLoad_InvalidValues verifies validation rejects out-of-range knobs.
func TestLoad_InvalidValues(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("STING_HOME", tempDir)
	t.Setenv("STING_FRESH_INSTALL", "")
	t.Setenv("STING_OTEL_ENDPOINT", "")

	configPath := filepath.Join(tempDir, "stingctl.yaml")
	bad := "startup:\n  max_probe_attempts: 0\n"
	if err := os.WriteFile(configPath, []byte(bad), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should reject max_probe_attempts of 0")
	}
}

// TestLoad_MalformedYAML verifies parse errors surface.
func TestLoad_MalformedYAML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "stingctl.yaml")
	if err := os.WriteFile(configPath, []byte("stack: [not: valid"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}
