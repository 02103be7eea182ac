// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads the orchestrator config, creating a default file on first run.
//
// Resolution order: explicit path argument, then $STING_HOME/stingctl.yaml,
// then ~/.sting/stingctl.yaml. Environment overrides are applied after the
// file is read, so STING_FRESH_INSTALL and STING_OTEL_ENDPOINT always win.
func Load(path string) (*OrchestratorConfig, error) {
	configPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	// start from defaults so a sparse file still yields usable values
	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", configPath, err)
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", configPath, err)
	}
	return &cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if home := os.Getenv("STING_HOME"); home != "" {
		return filepath.Join(home, "stingctl.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".sting", "stingctl.yaml"), nil
}

func applyEnvOverrides(cfg *OrchestratorConfig) {
	if home := os.Getenv("STING_HOME"); home != "" {
		cfg.InstallDir = home
	}
	if fresh := os.Getenv("STING_FRESH_INSTALL"); fresh != "" {
		if v, err := strconv.ParseBool(fresh); err == nil {
			cfg.Startup.FreshInstall = v
		}
	}
	if endpoint := os.Getenv("STING_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Observability.OTelEndpoint = endpoint
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
