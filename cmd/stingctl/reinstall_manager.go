// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Reinstall manager: rebuilds one service from scratch with rollback.

A reinstall is the most destructive per-service operation: the container
and image are removed and the image rebuilt without cache. It runs as a
saga so a failure at any point restores the service's pre-reinstall
byte state from a snapshot taken before anything was destroyed.

Ordering guarantee: the backup is taken and verified BEFORE the first
destructive step. If the snapshot itself fails, the reinstall aborts
with the service untouched.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/diagnostics"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/compose"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// ErrBackupRestore indicates the snapshot failed; nothing was destroyed.
var ErrBackupRestore = errors.New("backup failed")

// ErrReinstallFailed indicates the rebuild or health check failed after
// the destructive phase. It is returned only after restoration has been
// attempted, with the rollback outcome in the message.
var ErrReinstallFailed = errors.New("reinstall failed")

// ErrUnknownService indicates a service not present in the startup plan.
var ErrUnknownService = errors.New("unknown service")

// ReinstallStatus tracks a session through its phases.
type ReinstallStatus string

const (
	ReinstallBackingUp      ReinstallStatus = "backing-up"
	ReinstallRebuilding     ReinstallStatus = "rebuilding"
	ReinstallHealthChecking ReinstallStatus = "health-checking"
	ReinstallSucceeded      ReinstallStatus = "succeeded"
	ReinstallRolledBack     ReinstallStatus = "rolled-back"
	ReinstallFailed         ReinstallStatus = "failed"
)

// ReinstallSession records one reinstall attempt.
type ReinstallSession struct {
	// ID uniquely identifies the session across log lines and traces.
	ID string

	// Service is the service being reinstalled.
	Service string

	// BackupPath is where the pre-reinstall snapshot lives. Empty when
	// the service had no on-disk artifacts.
	BackupPath string

	// StartedAt is when the session began.
	StartedAt time.Time

	// CompletedAt is when the session reached a terminal status.
	CompletedAt time.Time

	// Status is the current phase or terminal outcome.
	Status ReinstallStatus
}

// ReinstallManager rebuilds services with automatic rollback.
type ReinstallManager interface {
	// Reinstall rebuilds one service from scratch.
	//
	// # Outputs
	//
	//   - error: nil on success; ErrServiceBusy when another operation
	//     holds the service; ErrBackupRestore when the snapshot failed
	//     (service untouched); ErrReinstallFailed when the rebuild or
	//     health check failed (rollback already attempted)
	Reinstall(ctx context.Context, service string) error

	// Sessions returns all sessions of this process, newest first.
	Sessions() []ReinstallSession
}

// ReinstallDeps carries the collaborators of the default manager.
type ReinstallDeps struct {
	Compose compose.ComposeExecutor
	Checker HealthChecker
	Backups BackupManager
	Locks   *ServiceLockRegistry
	Plan    *StartupPlan
	Metrics diagnostics.LifecycleMetrics
	Tracer  diagnostics.DiagnosticsTracer
	Logger  *logging.Logger

	// ContainerPrefix resolves container and image names. Default: "sting-"
	ContainerPrefix string

	// FreshInstall extends health-check budgets where declared.
	FreshInstall bool
}

func (d *ReinstallDeps) applyDefaults() {
	if d.ContainerPrefix == "" {
		d.ContainerPrefix = "sting-"
	}
	if d.Metrics == nil {
		d.Metrics = diagnostics.NewNoOpLifecycleMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = diagnostics.NewNoOpDiagnosticsTracer("stingctl")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Locks == nil {
		d.Locks = NewServiceLockRegistry()
	}
}

// DefaultReinstallManager implements ReinstallManager over the compose
// facade, the backup store, and the health checker.
type DefaultReinstallManager struct {
	deps ReinstallDeps

	mu       sync.Mutex
	sessions []*ReinstallSession
}

// NewDefaultReinstallManager creates a reinstall manager.
func NewDefaultReinstallManager(deps ReinstallDeps) *DefaultReinstallManager {
	deps.applyDefaults()
	return &DefaultReinstallManager{deps: deps}
}

// Reinstall rebuilds one service from scratch with rollback.
//
// # Description
//
// Phases:
//
//  1. Backup: snapshot the service's artifacts (abort on failure)
//  2. Rebuild: stop, remove container and image, build --no-cache, up
//  3. Health check: normal attempt budget through the health checker
//
// Failure in phase 2 or 3 compensates in reverse order: the snapshot
// is restored over the live location and the service started again
// from whatever image is available. The snapshot is retained on
// failure and rollback, deleted only on success.
//
// # Edge Cases
//
//   - Concurrent reinstall of the same service: rejected immediately
//     with ErrServiceBusy; different services proceed independently
//   - Service with no on-disk artifacts: the backup phase is a no-op
//     and rollback only restarts the service
func (m *DefaultReinstallManager) Reinstall(ctx context.Context, service string) error {
	svc, ok := m.deps.Plan.ServiceByName(service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	release, err := m.deps.Locks.Acquire(service)
	if err != nil {
		return err
	}
	defer release()

	session := &ReinstallSession{
		ID:        uuid.NewString(),
		Service:   service,
		StartedAt: time.Now(),
		Status:    ReinstallBackingUp,
	}
	m.mu.Lock()
	m.sessions = append([]*ReinstallSession{session}, m.sessions...)
	m.mu.Unlock()

	ctx, finish := m.deps.Tracer.StartSpan(ctx, "stack.reinstall", map[string]string{
		"service": service,
		"session": session.ID,
	})
	var outcome error
	defer func() { finish(outcome) }()

	m.deps.Logger.Info("reinstall started", "service", service, "session", session.ID)

	// Phase 1: snapshot before anything is destroyed
	backupPath, err := m.deps.Backups.CreateBackup(service)
	if err != nil && !errors.Is(err, ErrNoArtifacts) {
		m.finishSession(session, ReinstallFailed)
		m.deps.Metrics.RecordReinstall("failed")
		outcome = fmt.Errorf("%w: %v", ErrBackupRestore, err)
		return outcome
	}
	session.BackupPath = backupPath

	// Phases 2 and 3 as a saga
	m.setStatus(session, ReinstallRebuilding)
	saga := m.buildRebuildSaga(session, svc)

	if err := saga.Execute(ctx); err != nil {
		compErrors := saga.CompensationErrors()
		if len(compErrors) == 0 {
			m.finishSession(session, ReinstallRolledBack)
			m.deps.Metrics.RecordReinstall("rolled_back")
			m.deps.Logger.Warn("reinstall rolled back",
				"service", service, "session", session.ID,
				"backup", backupPath, "cause", err)
			outcome = fmt.Errorf("%w: %v (rolled back, backup retained at %s)",
				ErrReinstallFailed, err, backupPath)
			return outcome
		}

		m.finishSession(session, ReinstallFailed)
		m.deps.Metrics.RecordReinstall("failed")
		m.deps.Logger.Error("reinstall failed and rollback incomplete",
			"service", service, "session", session.ID,
			"backup", backupPath, "compensation_failures", len(compErrors))
		outcome = fmt.Errorf("%w: %v (rollback incomplete: %s; backup retained at %s)",
			ErrReinstallFailed, err, compErrors[0].Error, backupPath)
		return outcome
	}

	// Success: the snapshot is no longer needed
	if backupPath != "" {
		if err := m.deps.Backups.Delete(backupPath); err != nil {
			m.deps.Logger.Warn("failed to delete backup after successful reinstall",
				"backup", backupPath, "error", err)
		}
		if _, err := m.deps.Backups.Prune(service); err != nil {
			m.deps.Logger.Warn("backup pruning failed", "service", service, "error", err)
		}
	}

	m.finishSession(session, ReinstallSucceeded)
	m.deps.Metrics.RecordReinstall("succeeded")
	m.deps.Logger.Info("reinstall succeeded", "service", service, "session", session.ID)
	return nil
}

// buildRebuildSaga assembles the destructive phase with compensations.
func (m *DefaultReinstallManager) buildRebuildSaga(session *ReinstallSession, svc ServiceDescriptor) *Saga {
	service := svc.Name
	containerName := m.deps.ContainerPrefix + service
	if svc.ContainerName != "" {
		containerName = svc.ContainerName
	}

	config := DefaultSagaConfig()
	config.Logger = m.deps.Logger
	config.StepTimeout = 10 * time.Minute
	config.CompensationTimeout = 5 * time.Minute
	config.OnStepStart = func(step SagaStep) {
		if step.Name == "health-check" {
			m.setStatus(session, ReinstallHealthChecking)
		}
	}
	saga := NewSaga(config)

	saga.AddStep(SagaStep{
		Name: "stop-service",
		Execute: func(ctx context.Context) error {
			_, err := m.deps.Compose.Stop(ctx, compose.StopOptions{Services: []string{service}})
			return err
		},
		Compensate: func(ctx context.Context) error {
			// Bring the service back from whatever image is available
			_, err := m.deps.Compose.Up(ctx, compose.UpOptions{Services: []string{service}})
			return err
		},
	})

	saga.AddStep(SagaStep{
		Name: "remove-container",
		Execute: func(ctx context.Context) error {
			return m.deps.Compose.RemoveContainer(ctx, containerName)
		},
	})

	// remove-image has no Compensate: a removed image cannot be put
	// back in place. Rollback reaches the stop-service compensation,
	// whose compose up rebuilds or pulls the image while recreating
	// the container.
	saga.AddStep(SagaStep{
		Name: "remove-image",
		Execute: func(ctx context.Context) error {
			return m.deps.Compose.RemoveImage(ctx, containerName)
		},
	})

	saga.AddStep(SagaStep{
		Name: "rebuild",
		Execute: func(ctx context.Context) error {
			result, err := m.deps.Compose.Build(ctx, compose.BuildOptions{
				Services: []string{service},
				NoCache:  true,
			})
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("build exited %d: %s", result.ExitCode, firstLine(result.Stderr))
			}
			return nil
		},
		Compensate: func(ctx context.Context) error {
			if session.BackupPath == "" {
				return nil
			}
			return m.deps.Backups.Restore(session.BackupPath, session.Service)
		},
	})

	saga.AddStep(SagaStep{
		Name: "start-service",
		Execute: func(ctx context.Context) error {
			_, err := m.deps.Compose.Up(ctx, compose.UpOptions{
				Services:      []string{service},
				ForceRecreate: true,
			})
			return err
		},
	})

	saga.AddStep(SagaStep{
		Name: "health-check",
		Execute: func(ctx context.Context) error {
			_, err := m.deps.Checker.WaitForService(ctx, svc, waitOptionsFor(m.deps.FreshInstall))
			return err
		},
	})

	return saga
}

// waitOptionsFor builds wait options honoring the fresh-install signal.
func waitOptionsFor(freshInstall bool) WaitOptions {
	opts := DefaultWaitOptions()
	opts.FreshInstall = freshInstall
	return opts
}

// setStatus updates a session's phase under the lock.
func (m *DefaultReinstallManager) setStatus(session *ReinstallSession, status ReinstallStatus) {
	m.mu.Lock()
	session.Status = status
	m.mu.Unlock()
}

// finishSession marks a session terminal.
func (m *DefaultReinstallManager) finishSession(session *ReinstallSession, status ReinstallStatus) {
	m.mu.Lock()
	session.Status = status
	session.CompletedAt = time.Now()
	m.mu.Unlock()
}

// Sessions returns copies of all sessions, newest first.
func (m *DefaultReinstallManager) Sessions() []ReinstallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReinstallSession, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = *s
	}
	return out
}

// Compile-time interface check
var _ ReinstallManager = (*DefaultReinstallManager)(nil)
