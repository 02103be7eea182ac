// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/process"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// ErrConfigGeneration indicates env bundle generation failed.
var ErrConfigGeneration = errors.New("config generation failed")

// EnvMaterializer writes per-service environment bundles before startup.
//
// # Description
//
// Services read their configuration from env/<service>.env files under
// the install dir. The materializer regenerates those bundles from the
// platform's source config by shelling out to the config generator; the
// generator is deterministic, so an unchanged source config produces
// byte-identical bundles and compose sees no diff.
//
// The sequencer treats a generation failure as fatal on a cold start
// but downgrades it to a warning when bundles from a previous run are
// already on disk; stale bundles beat an unbootable stack.
type EnvMaterializer interface {
	// MaterializeEnv regenerates the env bundles for the named services.
	// Empty serviceNames means every declared service.
	MaterializeEnv(ctx context.Context, serviceNames []string) error

	// BundlesExist reports whether non-empty bundles exist on disk for
	// all of the named services.
	BundlesExist(serviceNames []string) (bool, error)
}

// DefaultEnvMaterializer shells out to the config generator script.
type DefaultEnvMaterializer struct {
	proc       process.Manager
	logger     *logging.Logger
	installDir string
	generator  string
	timeout    time.Duration
}

// EnvMaterializerConfig configures the default materializer.
type EnvMaterializerConfig struct {
	// InstallDir is the stack root; bundles land in InstallDir/env.
	InstallDir string

	// GeneratorPath is the config generator entry point.
	// Default: InstallDir/scripts/generate_env.py
	GeneratorPath string

	// Timeout bounds one generator run. Default: 60 seconds.
	Timeout time.Duration
}

// NewDefaultEnvMaterializer creates a materializer over the generator script.
func NewDefaultEnvMaterializer(cfg EnvMaterializerConfig, proc process.Manager, logger *logging.Logger) (*DefaultEnvMaterializer, error) {
	if cfg.InstallDir == "" {
		return nil, fmt.Errorf("%w: InstallDir is required", ErrConfigGeneration)
	}
	if cfg.GeneratorPath == "" {
		cfg.GeneratorPath = filepath.Join(cfg.InstallDir, "scripts", "generate_env.py")
	}
	cfg.Timeout = util.EnforceDefaultTimeout(cfg.Timeout, util.DefaultGeneratorTimeout)
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultEnvMaterializer{
		proc:       proc,
		logger:     logger,
		installDir: cfg.InstallDir,
		generator:  cfg.GeneratorPath,
		timeout:    cfg.Timeout,
	}, nil
}

// MaterializeEnv runs the generator and verifies the bundle set.
//
// # Description
//
// Invokes `python3 <generator> --output env/` in the install dir, then
// verifies each requested bundle exists and is non-empty. The generator
// owns idempotence; verification only guards against a generator that
// exited zero without writing anything.
func (m *DefaultEnvMaterializer) MaterializeEnv(ctx context.Context, serviceNames []string) error {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	args := []string{m.generator, "--output", filepath.Join(m.installDir, "env")}
	if len(serviceNames) > 0 {
		args = append(args, "--services", strings.Join(serviceNames, ","))
	}

	m.logger.Info("materializing env bundles",
		"generator", m.generator, "services", len(serviceNames))

	stdout, stderr, exitCode, err := m.proc.RunInDir(runCtx, m.installDir, nil, "python3", args...)
	if err != nil {
		return fmt.Errorf("%w: generator invocation: %v", ErrConfigGeneration, err)
	}
	if exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return fmt.Errorf("%w: generator exited %d: %s", ErrConfigGeneration, exitCode, detail)
	}

	ok, err := m.BundlesExist(serviceNames)
	if err != nil {
		return fmt.Errorf("%w: bundle verification: %v", ErrConfigGeneration, err)
	}
	if !ok {
		return fmt.Errorf("%w: generator succeeded but bundles are missing or empty", ErrConfigGeneration)
	}
	if err := m.validateBundles(serviceNames); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigGeneration, err)
	}
	return nil
}

// validateBundles parses each generated bundle and rejects malformed
// content. A bundle that passed the non-empty check can still be
// garbage if the generator crashed mid-write.
func (m *DefaultEnvMaterializer) validateBundles(serviceNames []string) error {
	envDir := filepath.Join(m.installDir, "env")

	var paths []string
	if len(serviceNames) == 0 {
		entries, err := os.ReadDir(envDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".env") {
				continue
			}
			paths = append(paths, filepath.Join(envDir, entry.Name()))
		}
	} else {
		for _, name := range serviceNames {
			paths = append(paths, filepath.Join(envDir, name+".env"))
		}
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		vars, err := util.ParseEnvBundle(data)
		if err != nil {
			return fmt.Errorf("bundle %s: %v", filepath.Base(path), err)
		}
		m.logger.Debug("bundle validated",
			"bundle", filepath.Base(path), "vars", len(vars))
	}
	return nil
}

// BundlesExist checks for non-empty bundles on disk.
//
// With no service names, any non-empty *.env file under env/ counts:
// the caller only wants to know whether a previous run left usable
// state behind.
func (m *DefaultEnvMaterializer) BundlesExist(serviceNames []string) (bool, error) {
	envDir := filepath.Join(m.installDir, "env")

	if len(serviceNames) == 0 {
		entries, err := os.ReadDir(envDir)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".env") {
				continue
			}
			info, err := entry.Info()
			if err == nil && info.Size() > 0 {
				return true, nil
			}
		}
		return false, nil
	}

	for _, name := range serviceNames {
		info, err := os.Stat(filepath.Join(envDir, name+".env"))
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		if info.Size() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// MOCK IMPLEMENTATION
// =============================================================================

// MockEnvMaterializer is a test double with recorded calls.
type MockEnvMaterializer struct {
	MaterializeEnvFunc func(context.Context, []string) error
	BundlesExistFunc   func([]string) (bool, error)

	mu               sync.Mutex
	materializeCalls [][]string
	existsCalls      [][]string
}

func (m *MockEnvMaterializer) MaterializeEnv(ctx context.Context, serviceNames []string) error {
	m.mu.Lock()
	m.materializeCalls = append(m.materializeCalls, append([]string(nil), serviceNames...))
	m.mu.Unlock()

	if m.MaterializeEnvFunc != nil {
		return m.MaterializeEnvFunc(ctx, serviceNames)
	}
	return nil
}

func (m *MockEnvMaterializer) BundlesExist(serviceNames []string) (bool, error) {
	m.mu.Lock()
	m.existsCalls = append(m.existsCalls, append([]string(nil), serviceNames...))
	m.mu.Unlock()

	if m.BundlesExistFunc != nil {
		return m.BundlesExistFunc(serviceNames)
	}
	return true, nil
}

// MaterializeCalls returns the recorded MaterializeEnv arguments.
func (m *MockEnvMaterializer) MaterializeCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.materializeCalls))
	copy(out, m.materializeCalls)
	return out
}

// Compile-time interface satisfaction checks
var _ EnvMaterializer = (*DefaultEnvMaterializer)(nil)
var _ EnvMaterializer = (*MockEnvMaterializer)(nil)
