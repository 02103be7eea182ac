// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/diagnostics"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/compose"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/network"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/process"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// app bundles the wired components behind the stack commands.
//
// Built once per invocation by buildApp. Everything hangs off the
// loaded OrchestratorConfig; no component reads globals.
type app struct {
	logger    *logging.Logger
	metrics   diagnostics.LifecycleMetrics
	tracer    diagnostics.DiagnosticsTracer
	proc      process.Manager
	compose   compose.ComposeExecutor
	health    HealthChecker
	env       EnvMaterializer
	repairer  network.BridgeRepairer
	plan      *StartupPlan
	locks     *ServiceLockRegistry
	stack     StackManager
	reinstall ReinstallManager

	// lock is the single-instance process lock, held for mutating
	// commands so two stingctl invocations cannot interleave.
	lock *process.ProcessLock
}

// buildApp wires the full component graph from the loaded config.
//
// # Description
//
// Construction order follows the dependency graph: process manager,
// then the compose facade, then everything that talks through it. The
// tracer is environment-driven: NoOp unless an OTLP endpoint is
// configured.
func buildApp(ctx context.Context) (*app, error) {
	cfg := appConfig

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "stingctl",
	})

	metrics := diagnostics.NewDefaultLifecycleMetrics(cfg.Observability.Prometheus)
	if err := metrics.Register(); err != nil {
		logger.Warn("metrics registration failed", "error", err)
	}

	if cfg.Observability.OTelEndpoint != "" {
		os.Setenv("STING_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	}
	tracer, err := diagnostics.NewDefaultDiagnosticsTracer(ctx, "stingctl")
	if err != nil {
		logger.Warn("tracer init failed, using no-op tracer", "error", err)
		tracer = diagnostics.NewNoOpDiagnosticsTracer("stingctl")
	}

	proc := process.NewDefaultManager()

	executor, err := compose.NewDefaultComposeExecutor(compose.ComposeConfig{
		StackDir:            cfg.InstallDir,
		ProjectName:         cfg.Stack.ProjectName,
		BaseFile:            cfg.Stack.ComposeFile,
		OverrideFile:        cfg.Stack.OverrideFile,
		ExtensionFiles:      cfg.Extensions,
		ContainerNamePrefix: cfg.Stack.ContainerPrefix,
	}, proc)
	if err != nil {
		return nil, fmt.Errorf("compose executor: %w", err)
	}

	plan, err := LoadStartupPlan(filepath.Join(cfg.InstallDir, "startup-plan.yaml"))
	if err != nil {
		return nil, fmt.Errorf("startup plan: %w", err)
	}

	checker := NewDefaultHealthChecker(HealthCheckerDeps{
		Compose:         executor,
		Metrics:         metrics,
		Logger:          logger,
		ContainerPrefix: cfg.Stack.ContainerPrefix,
		AttemptTimeout:  time.Duration(cfg.Startup.ServiceTimeoutSeconds) * time.Second / 10,
	})

	env, err := NewDefaultEnvMaterializer(EnvMaterializerConfig{
		InstallDir: cfg.InstallDir,
	}, proc, logger)
	if err != nil {
		return nil, fmt.Errorf("env materializer: %w", err)
	}

	repairer := network.NewDefaultBridgeRepairer(cfg.Stack.NetworkName, proc)
	locks := NewServiceLockRegistry()

	stack, err := NewDefaultStackManager(StackManagerDeps{
		Env:     env,
		Network: repairer,
		Compose: executor,
		Health:  checker,
		Locks:   locks,
		Plan:    plan,
		Config:  cfg,
		Metrics: metrics,
		Tracer:  tracer,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	backups, err := NewBackupManager(BackupManagerConfig{
		DataDir:   filepath.Join(cfg.InstallDir, "data"),
		BackupDir: cfg.BackupDir(),
		Retain:    cfg.Backup.Retain,
	})
	if err != nil {
		return nil, fmt.Errorf("backup manager: %w", err)
	}

	reinstall := NewDefaultReinstallManager(ReinstallDeps{
		Compose:         executor,
		Checker:         checker,
		Backups:         backups,
		Locks:           locks,
		Plan:            plan,
		Metrics:         metrics,
		Tracer:          tracer,
		Logger:          logger,
		ContainerPrefix: cfg.Stack.ContainerPrefix,
		FreshInstall:    cfg.Startup.FreshInstall,
	})

	return &app{
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		proc:      proc,
		compose:   executor,
		health:    checker,
		env:       env,
		repairer:  repairer,
		plan:      plan,
		locks:     locks,
		stack:     stack,
		reinstall: reinstall,
		lock:      process.NewProcessLock(process.DefaultProcessLockConfig()),
	}, nil
}

// outputConfig builds the output settings from the global flags.
func outputConfig() OutputConfig {
	return OutputConfig{
		JSON:    jsonOutput,
		Quiet:   quietOutput,
		NoColor: noColor,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
//
// In-flight compose invocations still run to completion on a detached
// context; cancellation takes effect at the next phase boundary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// acquireProcessLock takes the single-instance lock for mutating commands.
func acquireProcessLock(a *app, cfg OutputConfig) {
	if err := a.lock.Acquire(); err != nil {
		exitOn(cfg, "lock", err)
	}
}

// =============================================================================
// Runners
// =============================================================================

func runStackStart(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "start", err)
	acquireProcessLock(a, cfg)
	defer a.lock.Release()

	err = a.stack.Start(ctx, StartOptions{
		Services:          args,
		FreshInstall:      freshInstall,
		ForceRecreate:     startForceRecreate,
		SkipNetworkRepair: startSkipRepair,
	})
	os.Exit(OutputResult(cfg, "stack start", start, map[string]any{
		"transitions": a.stack.Transitions(),
	}, err))
}

func runStackStop(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "stop", err)
	acquireProcessLock(a, cfg)
	defer a.lock.Release()

	err = a.stack.Stop(ctx, StopOptions{
		Services:      args,
		Clean:         stopClean,
		RemoveVolumes: stopVolumes,
	})
	os.Exit(OutputResult(cfg, "stack stop", start, nil, err))
}

func runStackRestart(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "restart", err)
	acquireProcessLock(a, cfg)
	defer a.lock.Release()

	if len(args) == 1 {
		err = a.stack.Restart(ctx, args[0])
	} else {
		err = a.stack.RestartAll(ctx)
	}
	os.Exit(OutputResult(cfg, "stack restart", start, nil, err))
}

func runStackStatus(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "status", err)

	status, err := a.stack.Status(ctx)
	exitOn(cfg, "status", err)

	if cfg.JSON {
		os.Exit(OutputResult(cfg, "stack status", start, status, nil))
	}
	if !cfg.Quiet {
		RenderStackStatus(os.Stdout, status, cfg)
	}
	os.Exit(CLIExitSuccess)
}

func runStackReinstall(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "reinstall", err)
	acquireProcessLock(a, cfg)
	defer a.lock.Release()

	service := args[0]
	err = a.reinstall.Reinstall(ctx, service)

	var data any
	if sessions := a.reinstall.Sessions(); len(sessions) > 0 {
		data = summarizeSession(sessions[0])
	}
	if err == nil && !cfg.JSON && !cfg.Quiet {
		fmt.Printf("Reinstalled %s successfully.\n", service)
	}
	os.Exit(OutputResult(cfg, "stack reinstall", start, data, err))
}

func runStackBuild(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	a, err := buildApp(ctx)
	exitOn(cfg, "build", err)

	err = a.stack.Build(ctx, BuildSelection{
		Services: args,
		NoCache:  buildNoCache,
	})
	os.Exit(OutputResult(cfg, "stack build", start, nil, err))
}

func runStackLogs(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	exitOn(cfg, "logs", err)

	err = a.stack.Logs(ctx, LogSelection{
		Services: args,
		Tail:     logsTail,
		Follow:   logsFollow,
	})
	// Interrupting a follow is a normal way to leave the stream.
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	exitOn(cfg, "logs", err)
	os.Exit(CLIExitSuccess)
}
