// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package config contains unit tests for configuration types.

# Testing Strategy

These tests verify:
  - Default values are correctly applied
  - Install dir resolution honors STING_HOME
  - Derived paths (backups, compose files) resolve against InstallDir
*/
package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the baked-in defaults.
func TestDefaultConfig(t *testing.T) {
	t.Setenv("STING_HOME", "")

	cfg := DefaultConfig()

	if cfg.Stack.ProjectName != "sting" {
		t.Errorf("Stack.ProjectName = %q, want %q", cfg.Stack.ProjectName, "sting")
	}
	if cfg.Stack.ComposeFile != "docker-compose.yml" {
		t.Errorf("Stack.ComposeFile = %q, want %q", cfg.Stack.ComposeFile, "docker-compose.yml")
	}
	if cfg.Stack.OverrideFile != "docker-compose.override.yml" {
		t.Errorf("Stack.OverrideFile = %q, want %q", cfg.Stack.OverrideFile, "docker-compose.override.yml")
	}
	if cfg.Startup.FreshInstall {
		t.Error("Startup.FreshInstall should default to false")
	}
	if cfg.Startup.ServiceTimeoutSeconds != 180 {
		t.Errorf("ServiceTimeoutSeconds = %d, want 180", cfg.Startup.ServiceTimeoutSeconds)
	}
	if cfg.Backup.Retain != 5 {
		t.Errorf("Backup.Retain = %d, want 5", cfg.Backup.Retain)
	}
	if cfg.Observability.Prometheus {
		t.Error("Observability.Prometheus should default to false")
	}
	if cfg.InstallDir == "" {
		t.Error("InstallDir should never be empty")
	}
}

// TestDefaultInstallDir_EnvWins verifies STING_HOME takes priority.
func TestDefaultInstallDir_EnvWins(t *testing.T) {
	t.Setenv("STING_HOME", "/srv/sting")

	if got := defaultInstallDir(); got != "/srv/sting" {
		t.Errorf("defaultInstallDir() = %q, want %q", got, "/srv/sting")
	}
}

// TestDefaultInstallDir_HomeFallback verifies the ~/.sting fallback.
func TestDefaultInstallDir_HomeFallback(t *testing.T) {
	t.Setenv("STING_HOME", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory on this system")
	}

	want := filepath.Join(home, ".sting")
	if got := defaultInstallDir(); got != want {
		t.Errorf("defaultInstallDir() = %q, want %q", got, want)
	}
}

// TestBackupDir verifies the override and the InstallDir default.
func TestBackupDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstallDir = "/opt/sting"

	want := filepath.Join("/opt/sting", "backups")
	if got := cfg.BackupDir(); got != want {
		t.Errorf("BackupDir() = %q, want %q", got, want)
	}

	cfg.Backup.Dir = "/var/backups/sting"
	if got := cfg.BackupDir(); got != "/var/backups/sting" {
		t.Errorf("BackupDir() = %q, want override %q", got, "/var/backups/sting")
	}
}

// TestComposeFilePaths_BaseOnly verifies the list without an override file.
func TestComposeFilePaths_BaseOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstallDir = t.TempDir()

	files := cfg.ComposeFilePaths()
	if len(files) != 1 {
		t.Fatalf("ComposeFilePaths() returned %d files, want 1: %v", len(files), files)
	}
	want := filepath.Join(cfg.InstallDir, "docker-compose.yml")
	if files[0] != want {
		t.Errorf("files[0] = %q, want %q", files[0], want)
	}
}

// TestComposeFilePaths_WithOverrideAndExtensions verifies ordering.
func TestComposeFilePaths_WithOverrideAndExtensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstallDir = t.TempDir()
	cfg.Extensions = []string{"/etc/sting/gpu.yml"}

	overridePath := filepath.Join(cfg.InstallDir, "docker-compose.override.yml")
	if err := os.WriteFile(overridePath, []byte("services: {}\n"), 0644); err != nil {
		t.Fatalf("failed to write override: %v", err)
	}

	files := cfg.ComposeFilePaths()
	if len(files) != 3 {
		t.Fatalf("ComposeFilePaths() returned %d files, want 3: %v", len(files), files)
	}
	if files[1] != overridePath {
		t.Errorf("files[1] = %q, want override %q", files[1], overridePath)
	}
	if files[2] != "/etc/sting/gpu.yml" {
		t.Errorf("files[2] = %q, want extension path", files[2])
	}
}
