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
)

type OrchestratorConfig struct {
	// InstallDir is the stack installation root (compose files, env files, data).
	InstallDir string `yaml:"install_dir" validate:"required"`

	// Stack: identity of the compose project and its containers
	Stack StackConfig `yaml:"stack"`

	// Startup: readiness gating knobs for the dependency tiers
	Startup StartupConfig `yaml:"startup"`

	// Backup: per-service backup retention for reinstall sessions
	Backup BackupConfig `yaml:"backup"`

	// Extensions: paths to additional compose override files
	Extensions []string `yaml:"extensions"`

	// Observability: toggles for trace export and Prometheus metrics
	Observability ObservabilityConfig `yaml:"observability"`
}

type StackConfig struct {
	ProjectName     string `yaml:"project_name" validate:"required"`     // e.g. sting
	ContainerPrefix string `yaml:"container_prefix" validate:"required"` // e.g. sting-
	NetworkName     string `yaml:"network_name" validate:"required"`     // e.g. sting_default
	ComposeFile     string `yaml:"compose_file" validate:"required"`     // e.g. docker-compose.yml
	OverrideFile    string `yaml:"override_file"`                        // optional local override
}

type StartupConfig struct {
	// FreshInstall extends migration budgets on first boot.
	FreshInstall bool `yaml:"fresh_install"`

	// ServiceTimeoutSeconds bounds the wait for a single service probe loop.
	ServiceTimeoutSeconds int `yaml:"service_timeout_seconds" validate:"gte=1,lte=3600"`

	// TierTimeoutSeconds bounds the wait for a whole tier to converge.
	TierTimeoutSeconds int `yaml:"tier_timeout_seconds" validate:"gte=1,lte=7200"`

	// MaxProbeAttempts caps probe retries per service before giving up.
	MaxProbeAttempts int `yaml:"max_probe_attempts" validate:"gte=1,lte=1000"`
}

type BackupConfig struct {
	// Dir overrides the default backup location under InstallDir.
	Dir string `yaml:"dir"`

	// Retain is how many timestamped backups to keep per service.
	Retain int `yaml:"retain" validate:"gte=1,lte=50"`
}

type ObservabilityConfig struct {
	// Prometheus enables metric export for scraping by the stack's own
	// prometheus service.
	Prometheus bool `yaml:"prometheus"`

	// OTelEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTelEndpoint string `yaml:"otel_endpoint,omitempty"`
}

// defaultInstallDir resolves the stack root: STING_HOME wins, otherwise
// ~/.sting.
func defaultInstallDir() string {
	if home := os.Getenv("STING_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/opt/sting"
	}
	return filepath.Join(home, ".sting")
}

func DefaultConfig() OrchestratorConfig {
	return OrchestratorConfig{
		InstallDir: defaultInstallDir(),
		Stack: StackConfig{
			ProjectName:     "sting",
			ContainerPrefix: "sting-",
			NetworkName:     "sting_default",
			ComposeFile:     "docker-compose.yml",
			OverrideFile:    "docker-compose.override.yml",
		},
		Startup: StartupConfig{
			FreshInstall:          false,
			ServiceTimeoutSeconds: 180,
			TierTimeoutSeconds:    600,
			MaxProbeAttempts:      60,
		},
		Backup: BackupConfig{
			Retain: 5,
		},
		Extensions: []string{},
		Observability: ObservabilityConfig{
			Prometheus: false,
		},
	}
}

// BackupDir returns the effective backup directory.
func (c *OrchestratorConfig) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.InstallDir, "backups")
}

// ComposeFilePaths returns the ordered compose file list rooted at
// InstallDir: base file, override when present on disk, then extensions.
func (c *OrchestratorConfig) ComposeFilePaths() []string {
	files := []string{filepath.Join(c.InstallDir, c.Stack.ComposeFile)}
	if c.Stack.OverrideFile != "" {
		override := filepath.Join(c.InstallDir, c.Stack.OverrideFile)
		if _, err := os.Stat(override); err == nil {
			files = append(files, override)
		}
	}
	files = append(files, c.Extensions...)
	return files
}
