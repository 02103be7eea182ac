// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides StackManager for orchestrating the STING stack lifecycle.

StackManager is the primary orchestrator that coordinates all stack operations:
environment materialization, network repair, tiered container startup, health
gating, status reporting, and log streaming.

# Architecture

StackManager sits at the top of the dependency hierarchy:

	┌─────────────────────────────────────────────────────────────────┐
	│                        StackManager                             │
	│  (Orchestrates startup, shutdown, status, logs)                 │
	├─────────────────────────────────────────────────────────────────┤
	│                                                                 │
	│  Start() sequence:                                              │
	│    1. EnvMaterializer.MaterializeEnv()   // Env bundles         │
	│    2. BridgeRepairer.Repair()            // Docker bridge       │
	│    3. For each tier in the startup plan:                        │
	│         ComposeExecutor.Up()             // tier containers     │
	│         HealthChecker.WaitForTier()      // health gating       │
	│    4. Converged (or Aborted on essential failure)               │
	│                                                                 │
	└─────────────────────────────────────────────────────────────────┘

The startup sequence is a small state machine:

	Idle → MaterializingEnv → RepairingNetwork
	     → ProvisioningTier(0) → ... → ProvisioningTier(n)
	     → Converged | Aborted

Every per-service state transition is recorded in a bounded transition
log with a timestamp, so tier ordering is observable after the fact.

# Criticality Gating

Each tier converges before the next begins. Within a tier, outcomes are
gated by the service's declared criticality:

  - essential: failure aborts the startup immediately with the failed
    service, its tier, and the tail of its container log
  - important, optional: failure logs a warning; startup continues

# Thread Safety

StackManager is safe for concurrent use. Full-stack operations (Start,
Stop, RestartAll) are serialized via mutex. Per-service operations
(StartService, Restart) additionally acquire the shared service lock
registry so they cannot interleave with a reinstall of the same service.

# Usage

	proc := process.NewDefaultManager()
	executor, _ := compose.NewDefaultComposeExecutor(composeCfg, proc)
	checker := NewDefaultHealthChecker(HealthCheckerDeps{Compose: executor})
	env := NewDefaultEnvMaterializer(proc, EnvMaterializerConfig{InstallDir: dir})
	repairer := network.NewDefaultBridgeRepairer("sting_default", proc)

	mgr, err := NewDefaultStackManager(StackManagerDeps{
	    Env:     env,
	    Network: repairer,
	    Compose: executor,
	    Health:  checker,
	    Plan:    plan,
	    Config:  cfg,
	})
	if err != nil {
	    return err
	}
	err = mgr.Start(ctx, StartOptions{})
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/config"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/diagnostics"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/compose"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/network"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrInvalidServiceName is returned when a service name contains invalid characters.
	ErrInvalidServiceName = errors.New("invalid service name")

	// ErrPanicRecovered is returned when a panic was recovered during an operation.
	ErrPanicRecovered = errors.New("panic recovered during operation")
)

// =============================================================================
// Security Constants and Patterns
// =============================================================================

// serviceNamePattern validates compose service names.
// Per docker-compose spec: lowercase letters, digits, hyphens, and underscores.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// sensitivePatterns are regex patterns that match sensitive data in log
// tails and error messages. These are redacted before printing, since
// services like vault and kratos echo tokens into their startup logs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|password|token|credential)[=:\s]+[^\s]+`),
	regexp.MustCompile(`(?i)(hvs\.[a-zA-Z0-9]+)`),                // Vault tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]+)`),         // Bearer tokens
	regexp.MustCompile(`(?i)([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+)`), // Email addresses
}

// sanitizeForOutput redacts sensitive data from text before printing.
func sanitizeForOutput(text string) string {
	sanitized := text
	for _, pattern := range sensitivePatterns {
		sanitized = pattern.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// validateServiceName checks a single service name against the allowed pattern.
//
// # Description
//
// Service names are interpolated into compose invocations and container
// name filters. Restricting them to the compose character set prevents
// flag injection through a crafted name.
//
// # Inputs
//
//   - name: The service name to validate
//
// # Outputs
//
//   - error: ErrInvalidServiceName if the name is empty, too long, or
//     contains characters outside [a-z0-9_-]
func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidServiceName)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: name too long (%d chars)", ErrInvalidServiceName, len(name))
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidServiceName, name)
	}
	return nil
}

// validateServiceNames validates every name in a slice.
func validateServiceNames(names []string) error {
	for _, name := range names {
		if err := validateServiceName(name); err != nil {
			return err
		}
	}
	return nil
}

// recoverPanic converts a recovered panic into an error.
//
// Installed as a deferred handler on every mutating operation so a
// panic in a dependency cannot leave the manager's mutex held.
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}
	*errPtr = fmt.Errorf("%w: %v", ErrPanicRecovered, r)
}

// =============================================================================
// Startup Phases and Transition Log
// =============================================================================

// StartupPhase names a state of the startup sequence.
type StartupPhase string

const (
	PhaseIdle             StartupPhase = "idle"
	PhaseMaterializingEnv StartupPhase = "materializing-env"
	PhaseRepairingNetwork StartupPhase = "repairing-network"
	PhaseProvisioningTier StartupPhase = "provisioning-tier"
	PhaseConverged        StartupPhase = "converged"
	PhaseAborted          StartupPhase = "aborted"
)

// ServiceTransition records one observed service state change.
type ServiceTransition struct {
	// Time is when the transition was observed.
	Time time.Time

	// Service is the compose service name.
	Service string

	// Tier is the startup tier the service belongs to.
	Tier int

	// From is the state before the transition.
	From HealthState

	// To is the state after the transition.
	To HealthState
}

// transitionLogCapacity bounds the in-memory transition history.
const transitionLogCapacity = 512

// =============================================================================
// Options and Status Types
// =============================================================================

// StartOptions configures the Start operation.
type StartOptions struct {
	// Services limits startup to the named services and the tiers that
	// contain them. Empty means the full startup plan.
	Services []string

	// FreshInstall marks this as a first boot. Services that declare an
	// extended fresh-install attempt budget get it applied, and the env
	// materializer regenerates every bundle.
	FreshInstall bool

	// SkipNetworkRepair disables the bridge inspection pass.
	SkipNetworkRepair bool

	// ForceRecreate recreates containers even when config is unchanged.
	ForceRecreate bool
}

// StopOptions configures the Stop operation.
type StopOptions struct {
	// Services limits the stop to the named services.
	// Empty means the full stack, stopped in reverse tier order.
	Services []string

	// Clean additionally runs compose down to remove stopped
	// containers and orphans after the graceful stop.
	Clean bool

	// RemoveVolumes removes named volumes during Clean.
	// Destructive; requires Clean.
	RemoveVolumes bool

	// GracefulTimeout is how long to wait before force-stopping.
	// Zero means the executor default.
	GracefulTimeout time.Duration
}

// BuildSelection configures the Build operation.
type BuildSelection struct {
	// Services limits which services to build. Empty means all.
	Services []string

	// NoCache disables the image build cache.
	NoCache bool
}

// LogSelection configures the Logs operation.
type LogSelection struct {
	// Services limits which services to show. Empty means all.
	Services []string

	// Tail limits output to the last N lines per container. Zero means all.
	Tail int

	// Follow streams logs until the context is cancelled.
	Follow bool
}

// StackStatus is an aggregate snapshot of the stack.
type StackStatus struct {
	// State is the overall stack state: running, partial, degraded, stopped.
	State string

	// Services contains per-service detail, ordered by tier then name.
	Services []StackServiceInfo

	// Running is the count of running services.
	Running int

	// Stopped is the count of stopped services.
	Stopped int

	// Unhealthy is the count of running-but-unhealthy services.
	Unhealthy int
}

// StackServiceInfo is the per-service slice of StackStatus.
type StackServiceInfo struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the runtime container name.
	ContainerName string

	// Tier is the startup tier from the plan, -1 when the running
	// container is not part of the plan.
	Tier int

	// Criticality is the plan's declared criticality, empty when unknown.
	Criticality Criticality

	// State is the container state (running, exited, ...).
	State string

	// Healthy is the container's health check status. nil means the
	// container defines no health check.
	Healthy *bool

	// Ports lists published ports as "host:container/proto".
	Ports []string
}

// =============================================================================
// Interface Definition
// =============================================================================

// StackManager orchestrates the lifecycle of the STING stack.
//
// # Description
//
// This is the primary interface for starting, stopping, and managing
// the containerized services that make up STING. It coordinates env
// bundle materialization, docker bridge repair, tier-ordered container
// startup, and health gating.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Full-stack mutating
// operations are serialized; per-service operations are serialized
// against reinstalls of the same service.
//
// # Context Handling
//
// All methods accept context.Context. Long-running operations respect
// cancellation at phase boundaries; in-flight compose invocations are
// allowed to complete so no container is left mid-transition.
type StackManager interface {
	// Start brings the stack to a converged state.
	//
	// # Description
	//
	// Runs the startup state machine: materialize env bundles, repair
	// the bridge network, then provision each tier in order with
	// health gating between tiers. A second Start over an already
	// healthy stack re-applies Up (a compose no-op) and converges
	// without destructive action.
	//
	// # Outputs
	//
	//   - error: nil when every essential service converged;
	//     ErrConfigGeneration when env materialization failed with no
	//     usable bundles; ErrEssentialServiceFailed (also wrapping
	//     ErrProbeTimeout) when an essential service failed its gate
	Start(ctx context.Context, opts StartOptions) error

	// StartService starts a single service and waits for its health gate.
	StartService(ctx context.Context, service string) error

	// Stop stops services gracefully, full stack in reverse tier order.
	Stop(ctx context.Context, opts StopOptions) error

	// Restart restarts one service in place and waits for its health
	// gate. Fast path: no env materialization, no network repair.
	Restart(ctx context.Context, service string) error

	// RestartAll restarts every running service and re-gates each tier.
	RestartAll(ctx context.Context) error

	// Status returns an aggregate snapshot of the stack.
	Status(ctx context.Context) (*StackStatus, error)

	// Build builds service images through the compose facade.
	Build(ctx context.Context, sel BuildSelection) error

	// Logs streams service logs to the configured output writer.
	Logs(ctx context.Context, sel LogSelection) error

	// Transitions returns the recorded service state transitions,
	// oldest first.
	Transitions() []ServiceTransition
}

// =============================================================================
// Default Implementation
// =============================================================================

// StackManagerDeps carries the collaborators of the default manager.
//
// Env, Compose, Health, Plan, and Config are required. Network may be
// nil to disable bridge repair. Metrics, Tracer, Logger, Locks, and
// Output receive defaults when unset.
type StackManagerDeps struct {
	Env     EnvMaterializer
	Network network.BridgeRepairer
	Compose compose.ComposeExecutor
	Health  HealthChecker
	Locks   *ServiceLockRegistry
	Plan    *StartupPlan
	Config  *config.OrchestratorConfig
	Metrics diagnostics.LifecycleMetrics
	Tracer  diagnostics.DiagnosticsTracer
	Logger  *logging.Logger
	Output  io.Writer
}

// DefaultStackManager implements StackManager over the compose facade,
// the health checker, the env materializer, and the bridge repairer.
type DefaultStackManager struct {
	env     EnvMaterializer
	network network.BridgeRepairer
	compose compose.ComposeExecutor
	health  HealthChecker
	locks   *ServiceLockRegistry
	plan    *StartupPlan
	config  *config.OrchestratorConfig
	metrics diagnostics.LifecycleMetrics
	tracer  diagnostics.DiagnosticsTracer
	logger  *logging.Logger

	// output is where status messages are written. Default: os.Stdout
	output io.Writer

	// transitions records per-service state changes, bounded.
	transitions *util.RingBuffer[ServiceTransition]

	// phase is the current startup phase, observational only.
	phaseMu sync.Mutex
	phase   StartupPhase

	// mu serializes full-stack mutating operations.
	mu sync.Mutex
}

// NewDefaultStackManager creates a stack manager with all dependencies.
//
// # Description
//
// Validates the required dependencies and fills in defaults for the
// optional ones. Network may be nil; bridge repair is then skipped.
//
// # Inputs
//
//   - deps: Collaborators; see StackManagerDeps for required fields
//
// # Outputs
//
//   - *DefaultStackManager: Ready-to-use manager
//   - error: ErrNilDependency naming the first missing dependency
//
// # Examples
//
//	mgr, err := NewDefaultStackManager(StackManagerDeps{
//	    Env: env, Compose: executor, Health: checker,
//	    Plan: plan, Config: cfg,
//	})
//	if err != nil {
//	    return fmt.Errorf("failed to create stack manager: %w", err)
//	}
//
// # Limitations
//
//   - Does not validate that dependencies are properly configured
//
// # Assumptions
//
//   - Dependencies remain valid for the lifetime of the manager
func NewDefaultStackManager(deps StackManagerDeps) (*DefaultStackManager, error) {
	if deps.Env == nil {
		return nil, fmt.Errorf("%w: EnvMaterializer", ErrNilDependency)
	}
	if deps.Compose == nil {
		return nil, fmt.Errorf("%w: ComposeExecutor", ErrNilDependency)
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("%w: HealthChecker", ErrNilDependency)
	}
	if deps.Plan == nil {
		return nil, fmt.Errorf("%w: StartupPlan", ErrNilDependency)
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("%w: OrchestratorConfig", ErrNilDependency)
	}
	// Note: Network may be nil (bridge repair skipped)

	if deps.Locks == nil {
		deps.Locks = NewServiceLockRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = diagnostics.NewNoOpLifecycleMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = diagnostics.NewNoOpDiagnosticsTracer("stingctl")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Output == nil {
		deps.Output = os.Stdout
	}

	return &DefaultStackManager{
		env:         deps.Env,
		network:     deps.Network,
		compose:     deps.Compose,
		health:      deps.Health,
		locks:       deps.Locks,
		plan:        deps.Plan,
		config:      deps.Config,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		output:      deps.Output,
		transitions: util.NewRingBuffer[ServiceTransition](transitionLogCapacity),
		phase:       PhaseIdle,
	}, nil
}

// SetOutput configures the output writer for status messages.
//
// Default is os.Stdout. Passing nil installs a discard writer.
func (s *DefaultStackManager) SetOutput(w io.Writer) {
	if w == nil {
		s.output = io.Discard
	} else {
		s.output = w
	}
}

// Phase returns the current startup phase.
func (s *DefaultStackManager) Phase() StartupPhase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

func (s *DefaultStackManager) setPhase(p StartupPhase) {
	s.phaseMu.Lock()
	s.phase = p
	s.phaseMu.Unlock()
}

// recordTransition appends one service state change to the log.
func (s *DefaultStackManager) recordTransition(svc ServiceDescriptor, from, to HealthState) {
	s.transitions.Push(ServiceTransition{
		Time:    time.Now(),
		Service: svc.Name,
		Tier:    svc.Tier,
		From:    from,
		To:      to,
	})
	s.metrics.RecordServiceHealth(svc.Name, string(svc.Criticality), string(to))
}

// Transitions returns the recorded transitions, oldest first.
func (s *DefaultStackManager) Transitions() []ServiceTransition {
	return s.transitions.ToSlice()
}

// =============================================================================
// Start
// =============================================================================

// Start brings the stack to a converged state.
//
// See interface documentation for full details.
func (s *DefaultStackManager) Start(ctx context.Context, opts StartOptions) (err error) {
	// Serialize mutating operations to prevent concurrent starts.
	s.mu.Lock()
	defer s.mu.Unlock()

	// Recover from panics to prevent deadlocks and ensure error propagation.
	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := validateServiceNames(opts.Services); err != nil {
		return err
	}

	tiers, err := s.planTiers(opts.Services)
	if err != nil {
		return err
	}

	// Serialize against reinstalls: hold every involved service's lock.
	release, err := s.acquireLocks(tiers)
	if err != nil {
		return err
	}
	defer release()

	ctx, finish := s.tracer.StartSpan(ctx, "stack.start", map[string]string{
		"fresh_install": fmt.Sprintf("%t", s.freshInstall(opts)),
	})
	defer func() { finish(err) }()

	startTime := time.Now()

	// Phase 1: env bundle materialization
	s.setPhase(PhaseMaterializingEnv)
	if err := s.materializeEnv(ctx, opts); err != nil {
		s.setPhase(PhaseAborted)
		return err
	}

	// Phase 2: bridge network repair (advisory)
	s.setPhase(PhaseRepairingNetwork)
	s.repairNetwork(ctx, opts)

	// Phase 3..n: tier provisioning with health gating
	for _, tier := range tiers {
		if err := s.provisionTier(ctx, tier, opts); err != nil {
			s.setPhase(PhaseAborted)
			return err
		}
	}

	s.setPhase(PhaseConverged)
	s.metrics.RecordPhaseDuration("total", time.Since(startTime).Seconds())
	s.printStartupSummary(startTime, tiers)
	return nil
}

// planTiers resolves the tiers to provision, honoring a service subset.
//
// # Description
//
// With no subset, returns the plan's tiers as-is. With a subset, each
// tier is filtered to the requested services and empty tiers dropped;
// tier ORDER is always preserved so dependencies still start first.
//
// # Outputs
//
//   - [][]ServiceDescriptor: Non-empty tiers in plan order
//   - error: ErrUnknownService when a requested name is not in the plan
func (s *DefaultStackManager) planTiers(subset []string) ([][]ServiceDescriptor, error) {
	if len(subset) == 0 {
		return s.plan.Tiers, nil
	}

	requested := make(map[string]bool, len(subset))
	for _, name := range subset {
		if _, ok := s.plan.ServiceByName(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
		}
		requested[name] = true
	}

	var tiers [][]ServiceDescriptor
	for _, tier := range s.plan.Tiers {
		var filtered []ServiceDescriptor
		for _, svc := range tier {
			if requested[svc.Name] {
				filtered = append(filtered, svc)
			}
		}
		if len(filtered) > 0 {
			tiers = append(tiers, filtered)
		}
	}
	return tiers, nil
}

// acquireLocks try-acquires the lock of every service in the tiers.
//
// Returns a single release function, or ErrServiceBusy naming the
// first service held by another operation (locks already acquired are
// released before returning).
func (s *DefaultStackManager) acquireLocks(tiers [][]ServiceDescriptor) (func(), error) {
	var releases []func()
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}

	for _, tier := range tiers {
		for _, svc := range tier {
			release, err := s.locks.Acquire(svc.Name)
			if err != nil {
				releaseAll()
				return nil, err
			}
			releases = append(releases, release)
		}
	}
	return releaseAll, nil
}

// freshInstall resolves the fresh-install signal from options and config.
func (s *DefaultStackManager) freshInstall(opts StartOptions) bool {
	return opts.FreshInstall || s.config.Startup.FreshInstall
}

// materializeEnv generates env bundles before any container starts.
//
// # Description
//
// Invokes the env materializer for the requested services. A failure
// is fatal unless usable bundles from a previous run still exist, in
// which case it downgrades to a warning and startup continues with
// the stale bundles.
//
// # Outputs
//
//   - error: ErrConfigGeneration (wrapped) when generation failed and
//     no previous bundles exist
func (s *DefaultStackManager) materializeEnv(ctx context.Context, opts StartOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintf(s.output, "Materializing environment bundles...\n")
	phaseStart := time.Now()
	defer func() {
		s.metrics.RecordPhaseDuration("materialize_env", time.Since(phaseStart).Seconds())
	}()

	err := s.env.MaterializeEnv(ctx, opts.Services)
	if err == nil {
		return nil
	}

	// Stale bundles from a previous run keep the stack startable.
	exists, existsErr := s.env.BundlesExist(opts.Services)
	if existsErr == nil && exists {
		s.logger.Warn("env generation failed, reusing existing bundles", "error", err)
		fmt.Fprintf(s.output, "  Warning: env generation failed, reusing existing bundles\n")
		return nil
	}

	return err
}

// repairNetwork runs one advisory bridge inspection pass.
//
// Faults and repairs are logged; nothing here can fail the startup. A
// damaged bridge does not block a start attempt that might still
// succeed, and a repair error is no worse than not repairing.
func (s *DefaultStackManager) repairNetwork(ctx context.Context, opts StartOptions) {
	if s.network == nil || opts.SkipNetworkRepair {
		return
	}
	if ctx.Err() != nil {
		return
	}

	fmt.Fprintf(s.output, "Checking docker bridge network...\n")
	phaseStart := time.Now()
	defer func() {
		s.metrics.RecordPhaseDuration("repair_network", time.Since(phaseStart).Seconds())
	}()

	record, err := s.network.Repair(ctx)
	if err != nil {
		s.logger.Warn("bridge inspection failed", "error", err)
		fmt.Fprintf(s.output, "  Warning: bridge inspection failed: %v\n", err)
		return
	}

	for _, fault := range record.Faults {
		if fault == network.FaultNone {
			continue
		}
		s.metrics.RecordNetworkRepair(string(fault))
		s.logger.Warn("bridge fault detected",
			"network", record.NetworkName, "bridge", record.Bridge, "fault", string(fault))
	}
	for _, applied := range record.Applied {
		fmt.Fprintf(s.output, "  Repaired: %s\n", applied)
	}
	for _, warning := range record.Warnings {
		s.logger.Warn("bridge repair warning", "detail", warning)
	}
	if len(record.Faults) > 0 && !record.Healthy {
		fmt.Fprintf(s.output, "  Warning: bridge still unhealthy after repair\n")
	}
}

// provisionTier starts one tier and gates on its health outcome.
//
// # Description
//
// Brings up the tier's containers through the facade, records each
// service entering Starting, then probes the whole tier concurrently.
// Essential failures abort with the failed services, the tier number,
// and each failed service's log tail. Important and optional failures
// are warnings; the next tier still begins.
//
// # Edge Cases
//
//   - Cancellation mid-tier: the in-flight Up invocation completes on
//     a detached context before the cancellation error is returned
func (s *DefaultStackManager) provisionTier(ctx context.Context, tier []ServiceDescriptor, opts StartOptions) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tier) == 0 {
		return nil
	}

	tierNum := tier[0].Tier
	names := serviceNames(tier)

	ctx, finish := s.tracer.StartSpan(ctx, "stack.provision_tier", map[string]string{
		"tier":     fmt.Sprintf("%d", tierNum),
		"services": strings.Join(names, ","),
	})
	defer func() { finish(err) }()

	s.setPhase(PhaseProvisioningTier)
	fmt.Fprintf(s.output, "Tier %d: starting %s\n", tierNum, strings.Join(names, ", "))
	phaseStart := time.Now()
	defer func() {
		s.metrics.RecordPhaseDuration(fmt.Sprintf("tier_%d", tierNum), time.Since(phaseStart).Seconds())
	}()

	if err := s.upTier(ctx, names, opts); err != nil {
		return err
	}
	for _, svc := range tier {
		s.recordTransition(svc, HealthUnknown, HealthStarting)
	}

	tierCtx := ctx
	if s.config.Startup.TierTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		tierCtx, cancel = context.WithTimeout(ctx,
			time.Duration(s.config.Startup.TierTimeoutSeconds)*time.Second)
		defer cancel()
	}

	waitOpts := waitOptionsFor(s.freshInstall(opts))
	result, err := s.health.WaitForTier(tierCtx, tier, waitOpts)
	if err != nil {
		return err
	}

	for _, probe := range result.Results {
		s.recordTransitionByName(tier, probe.Service, probe.State)
		s.metrics.RecordServiceWait(probe.Service, probe.Duration.Seconds())
	}

	for _, name := range result.Degraded {
		s.logger.Warn("service not healthy, continuing",
			"service", name, "tier", tierNum)
		fmt.Fprintf(s.output, "  Warning: %s not healthy (non-essential), continuing\n", name)
	}

	if !result.Converged() {
		s.printEssentialFailures(tierNum, result)
		return fmt.Errorf("%w: %s in tier %d: %w",
			ErrEssentialServiceFailed, strings.Join(result.FailedEssential, ", "), tierNum,
			ErrProbeTimeout)
	}

	fmt.Fprintf(s.output, "  Tier %d converged (%d services, took %v)\n",
		tierNum, len(tier), result.Duration.Round(time.Millisecond))
	return nil
}

// upTier invokes compose Up with a detached completion guard.
//
// The invocation runs on a context detached from cancellation so
// compose is never interrupted mid-transition; the caller's
// cancellation is reported only after the invocation completes.
func (s *DefaultStackManager) upTier(ctx context.Context, names []string, opts StartOptions) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.compose.Up(context.WithoutCancel(ctx), compose.UpOptions{
			Services:      names,
			ForceRecreate: opts.ForceRecreate,
		})
		done <- err
	}()

	err := <-done
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// recordTransitionByName records a transition for a named tier member.
func (s *DefaultStackManager) recordTransitionByName(tier []ServiceDescriptor, name string, to HealthState) {
	for _, svc := range tier {
		if svc.Name == name {
			s.recordTransition(svc, HealthStarting, to)
			return
		}
	}
}

// printEssentialFailures reports each failed essential service with
// its sanitized log tail.
func (s *DefaultStackManager) printEssentialFailures(tierNum int, result *TierResult) {
	fmt.Fprintf(s.output, "\nTier %d failed: essential service(s) unhealthy\n", tierNum)
	for _, probe := range result.Results {
		if !containsName(result.FailedEssential, probe.Service) {
			continue
		}
		fmt.Fprintf(s.output, "\n  %s: %s after %d attempts\n",
			probe.Service, probe.State, probe.Attempts)
		if probe.Message != "" {
			fmt.Fprintf(s.output, "    %s\n", sanitizeForOutput(probe.Message))
		}
		if probe.LogTail != "" {
			fmt.Fprintf(s.output, "    Last log lines:\n")
			for _, line := range strings.Split(strings.TrimSpace(probe.LogTail), "\n") {
				fmt.Fprintf(s.output, "      %s\n", sanitizeForOutput(line))
			}
		}
	}
}

// printStartupSummary outputs a summary after successful startup.
func (s *DefaultStackManager) printStartupSummary(startTime time.Time, tiers [][]ServiceDescriptor) {
	duration := time.Since(startTime).Round(time.Millisecond)
	total := 0
	for _, tier := range tiers {
		total += len(tier)
	}
	fmt.Fprintf(s.output, "\nStack converged: %d services across %d tiers in %v\n",
		total, len(tiers), duration)

	type accessPoint struct {
		name string
		url  string
	}
	var points []accessPoint
	width := 0
	for _, tier := range tiers {
		for _, svc := range tier {
			if svc.AccessURL == "" {
				continue
			}
			points = append(points, accessPoint{name: svc.Name, url: svc.AccessURL})
			if len(svc.Name) > width {
				width = len(svc.Name)
			}
		}
	}
	if len(points) == 0 {
		return
	}

	fmt.Fprintf(s.output, "\nAccess points:\n")
	for _, p := range points {
		fmt.Fprintf(s.output, "  %-*s  %s\n", width+1, p.name+":", p.url)
	}
}

// =============================================================================
// StartService / Restart
// =============================================================================

// StartService starts a single service and waits for its health gate.
//
// # Description
//
// Per-service fast path used by `stack start <service>`. Acquires the
// service's lock so it cannot interleave with a reinstall, brings the
// container up, and waits with the descriptor's attempt budget. Env
// materialization and network repair are skipped; run a full Start
// when those are needed.
func (s *DefaultStackManager) StartService(ctx context.Context, service string) (err error) {
	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := validateServiceName(service); err != nil {
		return err
	}
	svc, ok := s.plan.ServiceByName(service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	release, err := s.locks.Acquire(service)
	if err != nil {
		return err
	}
	defer release()

	fmt.Fprintf(s.output, "Starting %s...\n", service)
	if err := s.upTier(ctx, []string{service}, StartOptions{}); err != nil {
		return err
	}
	s.recordTransition(svc, HealthUnknown, HealthStarting)

	result, err := s.health.WaitForService(ctx, svc, waitOptionsFor(s.config.Startup.FreshInstall))
	if result != nil {
		s.recordTransition(svc, HealthStarting, result.State)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(s.output, "  %s healthy after %d attempt(s) (took %v)\n",
		service, result.Attempts, result.Duration.Round(time.Millisecond))
	return nil
}

// Restart restarts one service in place and waits for its health gate.
//
// See interface documentation for full details.
func (s *DefaultStackManager) Restart(ctx context.Context, service string) (err error) {
	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := validateServiceName(service); err != nil {
		return err
	}
	svc, ok := s.plan.ServiceByName(service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	release, err := s.locks.Acquire(service)
	if err != nil {
		return err
	}
	defer release()

	fmt.Fprintf(s.output, "Restarting %s...\n", service)
	result, err := s.compose.Restart(ctx, compose.RestartOptions{Services: []string{service}})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("restart exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}
	s.recordTransition(svc, HealthUnknown, HealthStarting)

	probe, err := s.health.WaitForService(ctx, svc, waitOptionsFor(false))
	if probe != nil {
		s.recordTransition(svc, HealthStarting, probe.State)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(s.output, "  %s healthy (took %v)\n", service, probe.Duration.Round(time.Millisecond))
	return nil
}

// RestartAll restarts every service and re-gates each tier in order.
func (s *DefaultStackManager) RestartAll(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		recoverPanic(recover(), &err)
	}()

	release, err := s.acquireLocks(s.plan.Tiers)
	if err != nil {
		return err
	}
	defer release()

	fmt.Fprintf(s.output, "Restarting all services...\n")
	result, err := s.compose.Restart(ctx, compose.RestartOptions{})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("restart exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}

	waitOpts := waitOptionsFor(false)
	for _, tier := range s.plan.Tiers {
		tierResult, err := s.health.WaitForTier(ctx, tier, waitOpts)
		if err != nil {
			return err
		}
		for _, probe := range tierResult.Results {
			s.recordTransitionByName(tier, probe.Service, probe.State)
		}
		if !tierResult.Converged() {
			s.printEssentialFailures(tier[0].Tier, tierResult)
			return fmt.Errorf("%w: %s in tier %d: %w",
				ErrEssentialServiceFailed, strings.Join(tierResult.FailedEssential, ", "),
				tier[0].Tier, ErrProbeTimeout)
		}
	}

	fmt.Fprintf(s.output, "All services healthy.\n")
	return nil
}

// =============================================================================
// Stop
// =============================================================================

// Stop stops services gracefully, full stack in reverse tier order.
//
// # Description
//
// A full-stack stop walks the startup plan backwards so dependents go
// down before their dependencies (the app before postgres, postgres
// before vault). A subset stop stops exactly the named services. With
// Clean set, a compose down removes stopped containers and orphans
// afterwards.
//
// # Edge Cases
//
//   - Stack already stopped: reports "not running" and returns nil
func (s *DefaultStackManager) Stop(ctx context.Context, opts StopOptions) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		recoverPanic(recover(), &err)
	}()

	if err := validateServiceNames(opts.Services); err != nil {
		return err
	}
	if opts.RemoveVolumes && !opts.Clean {
		return fmt.Errorf("RemoveVolumes requires Clean")
	}

	startTime := time.Now()

	running, err := s.isStackRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintf(s.output, "Stack is not running.\n")
		return nil
	}

	if len(opts.Services) > 0 {
		err = s.stopServices(ctx, opts.Services, opts.GracefulTimeout)
	} else {
		err = s.stopReverseTiers(ctx, opts.GracefulTimeout)
	}
	if err != nil {
		return err
	}

	if opts.Clean {
		if err := s.cleanStopped(ctx, opts.RemoveVolumes); err != nil {
			return err
		}
	}

	fmt.Fprintf(s.output, "\nStack stopped in %v\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// isStackRunning reports whether any stack container is running.
func (s *DefaultStackManager) isStackRunning(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	status, err := s.compose.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check stack status: %w", err)
	}
	return status.Running > 0, nil
}

// stopReverseTiers stops the full stack, highest tier first.
func (s *DefaultStackManager) stopReverseTiers(ctx context.Context, gracefulTimeout time.Duration) error {
	for i := len(s.plan.Tiers) - 1; i >= 0; i-- {
		tier := s.plan.Tiers[i]
		names := serviceNames(tier)
		fmt.Fprintf(s.output, "Tier %d: stopping %s\n", tier[0].Tier, strings.Join(names, ", "))

		if err := s.stopServices(ctx, names, gracefulTimeout); err != nil {
			return err
		}
	}
	return nil
}

// stopServices stops the named services with a detached completion guard.
func (s *DefaultStackManager) stopServices(ctx context.Context, names []string, gracefulTimeout time.Duration) error {
	done := make(chan struct{})
	var result *compose.StopResult
	var stopErr error
	go func() {
		defer close(done)
		result, stopErr = s.compose.Stop(context.WithoutCancel(ctx), compose.StopOptions{
			Services:        names,
			GracefulTimeout: gracefulTimeout,
		})
	}()
	<-done

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if stopErr != nil {
		return stopErr
	}

	if result.ForceStopped > 0 {
		s.logger.Warn("some containers required force stop",
			"graceful", result.GracefulStopped, "forced", result.ForceStopped)
	}
	for _, warning := range result.Errors {
		s.logger.Warn("stop warning", "detail", warning)
	}
	return nil
}

// cleanStopped removes stopped containers and orphans via compose down.
func (s *DefaultStackManager) cleanStopped(ctx context.Context, removeVolumes bool) error {
	fmt.Fprintf(s.output, "Removing stopped containers...\n")

	result, err := s.compose.Down(ctx, compose.DownOptions{
		RemoveOrphans: true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("compose down exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Status returns an aggregate snapshot of the stack.
//
// # Description
//
// Queries the compose facade for container state and joins it with
// the startup plan: each running service is annotated with its tier
// and criticality. Plan services with no container report state
// "not-created". Read-only; does not take the operation mutex.
func (s *DefaultStackManager) Status(ctx context.Context) (*StackStatus, error) {
	composeStatus, err := s.compose.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack status: %w", err)
	}
	return s.buildStackStatus(composeStatus), nil
}

// buildStackStatus joins compose state with the startup plan.
func (s *DefaultStackManager) buildStackStatus(composeStatus *compose.ComposeStatus) *StackStatus {
	seen := make(map[string]bool, len(composeStatus.Services))
	infos := make([]StackServiceInfo, 0, len(composeStatus.Services))

	for _, svc := range composeStatus.Services {
		seen[svc.Name] = true
		infos = append(infos, s.convertServiceStatus(svc))
	}

	// Plan services with no container at all
	for _, svc := range s.plan.AllServices() {
		if seen[svc.Name] {
			continue
		}
		infos = append(infos, StackServiceInfo{
			Name:          svc.Name,
			ContainerName: svc.ContainerName,
			Tier:          svc.Tier,
			Criticality:   svc.Criticality,
			State:         "not-created",
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Tier != infos[j].Tier {
			return infos[i].Tier < infos[j].Tier
		}
		return infos[i].Name < infos[j].Name
	})

	return &StackStatus{
		State:     s.determineOverallState(composeStatus),
		Services:  infos,
		Running:   composeStatus.Running,
		Stopped:   composeStatus.Stopped,
		Unhealthy: composeStatus.Unhealthy,
	}
}

// convertServiceStatus maps one compose service status to stack info.
func (s *DefaultStackManager) convertServiceStatus(svc compose.ServiceStatus) StackServiceInfo {
	info := StackServiceInfo{
		Name:          svc.Name,
		ContainerName: svc.ContainerName,
		Tier:          -1,
		State:         svc.State,
		Healthy:       svc.Healthy,
		Ports:         formatPortMappings(svc.Ports),
	}
	if planned, ok := s.plan.ServiceByName(svc.Name); ok {
		info.Tier = planned.Tier
		info.Criticality = planned.Criticality
	}
	return info
}

// determineOverallState reduces container counts to one state string.
func (s *DefaultStackManager) determineOverallState(status *compose.ComposeStatus) string {
	switch {
	case status.Running == 0:
		return "stopped"
	case status.Unhealthy > 0:
		return "degraded"
	case status.Stopped > 0:
		return "partial"
	default:
		return "running"
	}
}

// formatPortMappings renders port bindings as "host:container/proto".
func formatPortMappings(ports []compose.PortMapping) []string {
	if len(ports) == 0 {
		return nil
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		out = append(out, fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, proto))
	}
	return out
}

// =============================================================================
// Build / Logs
// =============================================================================

// Build builds service images through the compose facade.
func (s *DefaultStackManager) Build(ctx context.Context, sel BuildSelection) error {
	if err := validateServiceNames(sel.Services); err != nil {
		return err
	}

	if len(sel.Services) > 0 {
		fmt.Fprintf(s.output, "Building %s...\n", strings.Join(sel.Services, ", "))
	} else {
		fmt.Fprintf(s.output, "Building all services...\n")
	}

	result, err := s.compose.Build(ctx, compose.BuildOptions{
		Services: sel.Services,
		NoCache:  sel.NoCache,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("build exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}

	fmt.Fprintf(s.output, "Build complete (took %v)\n", result.Duration.Round(time.Millisecond))
	return nil
}

// Logs streams service logs to the configured output writer.
func (s *DefaultStackManager) Logs(ctx context.Context, sel LogSelection) error {
	if err := validateServiceNames(sel.Services); err != nil {
		return err
	}

	return s.compose.Logs(ctx, compose.LogsOptions{
		Services: sel.Services,
		Tail:     sel.Tail,
		Follow:   sel.Follow,
	}, s.output)
}

// =============================================================================
// Helpers
// =============================================================================

// serviceNames extracts the names from a tier of descriptors.
func serviceNames(tier []ServiceDescriptor) []string {
	names := make([]string, len(tier))
	for i, svc := range tier {
		names[i] = svc.Name
	}
	return names
}

// containsName reports whether names contains name.
func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockStackManager is a mock implementation for testing.
//
// Each method delegates to an optional function field and records the
// call. Unset fields return zero values.
type MockStackManager struct {
	StartFunc        func(ctx context.Context, opts StartOptions) error
	StartServiceFunc func(ctx context.Context, service string) error
	StopFunc         func(ctx context.Context, opts StopOptions) error
	RestartFunc      func(ctx context.Context, service string) error
	RestartAllFunc   func(ctx context.Context) error
	StatusFunc       func(ctx context.Context) (*StackStatus, error)
	BuildFunc        func(ctx context.Context, sel BuildSelection) error
	LogsFunc         func(ctx context.Context, sel LogSelection) error
	TransitionsFunc  func() []ServiceTransition

	mu    sync.Mutex
	calls []string
}

func (m *MockStackManager) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// Calls returns the recorded method invocations in order.
func (m *MockStackManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockStackManager) Start(ctx context.Context, opts StartOptions) error {
	m.record("Start")
	if m.StartFunc != nil {
		return m.StartFunc(ctx, opts)
	}
	return nil
}

func (m *MockStackManager) StartService(ctx context.Context, service string) error {
	m.record("StartService:" + service)
	if m.StartServiceFunc != nil {
		return m.StartServiceFunc(ctx, service)
	}
	return nil
}

func (m *MockStackManager) Stop(ctx context.Context, opts StopOptions) error {
	m.record("Stop")
	if m.StopFunc != nil {
		return m.StopFunc(ctx, opts)
	}
	return nil
}

func (m *MockStackManager) Restart(ctx context.Context, service string) error {
	m.record("Restart:" + service)
	if m.RestartFunc != nil {
		return m.RestartFunc(ctx, service)
	}
	return nil
}

func (m *MockStackManager) RestartAll(ctx context.Context) error {
	m.record("RestartAll")
	if m.RestartAllFunc != nil {
		return m.RestartAllFunc(ctx)
	}
	return nil
}

func (m *MockStackManager) Status(ctx context.Context) (*StackStatus, error) {
	m.record("Status")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &StackStatus{State: "stopped"}, nil
}

func (m *MockStackManager) Build(ctx context.Context, sel BuildSelection) error {
	m.record("Build")
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, sel)
	}
	return nil
}

func (m *MockStackManager) Logs(ctx context.Context, sel LogSelection) error {
	m.record("Logs")
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, sel)
	}
	return nil
}

func (m *MockStackManager) Transitions() []ServiceTransition {
	m.record("Transitions")
	if m.TransitionsFunc != nil {
		return m.TransitionsFunc()
	}
	return nil
}

// Compile-time interface checks
var _ StackManager = (*DefaultStackManager)(nil)
var _ StackManager = (*MockStackManager)(nil)
