// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/process"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeNotFound is returned when the docker binary is not available.
	ErrComposeNotFound = errors.New("docker not found")

	// ErrComposeFileMissing is returned when a required compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrServiceNotFound is returned when a specified service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrContainerNotRunning is returned for exec on stopped container.
	ErrContainerNotRunning = errors.New("container not running")

	// ErrCleanupPartial is returned when cleanup completes with some errors.
	ErrCleanupPartial = errors.New("cleanup completed with errors")

	// ErrInvalidConfig is returned when ComposeConfig is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection attacks through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This prevents shell metacharacter injection and other config attacks.
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// portMappingRegex parses entries from docker's Ports column, e.g.
// "0.0.0.0:5432->5432/tcp".
var portMappingRegex = regexp.MustCompile(`^(.*):(\d+)->(\d+)/(tcp|udp)$`)

// =============================================================================
// Interface Definition
// =============================================================================

// ComposeExecutor manages docker compose operations for the STING stack.
//
// # Description
//
// This interface abstracts all interactions with docker compose, enabling
// testable orchestration of container services. It handles compose file
// layering (base, override, extensions), environment injection, and
// provides both graceful and forceful container management.
//
// # Security
//
//   - Validates compose file paths to prevent directory traversal
//   - Sanitizes environment variables before injection
//   - Does not log sensitive environment values (tokens, secrets)
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that modify
// container state (Up, Down, ForceCleanup) should be serialized.
type ComposeExecutor interface {
	// Up starts services defined in the compose configuration.
	//
	// # Description
	//
	// Executes `docker compose up -d` with optional build flag.
	// Composes files in order: base -> override -> extensions.
	// Injects environment variables from the provided map.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - opts: Configuration for the up operation
	//
	// # Outputs
	//
	//   - *ComposeResult: Execution result with stdout/stderr
	//   - error: If compose command fails
	//
	// # Example
	//
	//	result, err := executor.Up(ctx, UpOptions{
	//	    Services: []string{"vault", "postgres"},
	//	    Env: map[string]string{
	//	        "STING_VERSION": "1.4.2",
	//	    },
	//	})
	//
	// # Limitations
	//
	//   - Does not verify service health after startup (use HealthChecker)
	//   - Build failures are reported but not retried
	Up(ctx context.Context, opts UpOptions) (*ComposeResult, error)

	// Down stops and removes containers defined in compose configuration.
	Down(ctx context.Context, opts DownOptions) (*ComposeResult, error)

	// Stop stops STING containers with timeout-based escalation.
	//
	// Sends SIGTERM first and waits for the graceful timeout, then
	// escalates to SIGKILL for any containers still running.
	Stop(ctx context.Context, opts StopOptions) (*StopResult, error)

	// Restart restarts the given services in place.
	//
	// Executes `docker compose restart` for the named services without
	// recreating containers. Empty services means all services.
	Restart(ctx context.Context, opts RestartOptions) (*ComposeResult, error)

	// Build builds images for the given services.
	//
	// # Description
	//
	// Executes `docker compose build` with optional --no-cache flag.
	// Used by rebuild and reinstall flows to refresh service images
	// before recreating containers.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - opts: Build configuration (services, cache policy)
	//
	// # Outputs
	//
	//   - *ComposeResult: Execution result with stdout/stderr
	//   - error: If the build fails
	Build(ctx context.Context, opts BuildOptions) (*ComposeResult, error)

	// Logs streams container logs to the provided writer.
	Logs(ctx context.Context, opts LogsOptions, w io.Writer) error

	// Status returns the current state of compose services.
	Status(ctx context.Context) (*ComposeStatus, error)

	// IsServiceRunning reports whether a container is currently running.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - containerName: Exact container name (e.g. "sting-postgres")
	//
	// # Outputs
	//
	//   - bool: true if a running container with that name exists
	//   - error: If the container query fails
	IsServiceRunning(ctx context.Context, containerName string) (bool, error)

	// RemoveContainer force-removes a single container by name.
	//
	// Not an error if the container does not exist.
	RemoveContainer(ctx context.Context, containerName string) error

	// RemoveImage removes an image by reference.
	//
	// Not an error if the image does not exist. Used by reinstall flows
	// to force a full rebuild from source.
	RemoveImage(ctx context.Context, imageRef string) error

	// ForceCleanup removes all STING containers regardless of compose state.
	//
	// Nuclear option when compose down fails. Continues through errors
	// and reports them in the result.
	ForceCleanup(ctx context.Context) (*CleanupResult, error)

	// Exec runs a command inside a running service container.
	Exec(ctx context.Context, opts ExecOptions) (*ExecResult, error)

	// GetComposeFiles returns the resolved list of compose file paths
	// in layering order (base, override, extensions).
	GetComposeFiles() []string
}

// =============================================================================
// Supporting Types
// =============================================================================

// ComposeConfig provides configuration for compose operations.
type ComposeConfig struct {
	// StackDir is the directory containing compose files.
	// All compose file paths are relative to this directory.
	StackDir string

	// ProjectName is the compose project name.
	// Default: "sting"
	ProjectName string

	// BaseFile is the primary compose file name.
	// Default: "docker-compose.yml"
	BaseFile string

	// OverrideFile is the user override file name.
	// Optional, only used if file exists.
	// Default: "docker-compose.override.yml"
	OverrideFile string

	// ExtensionFiles are additional compose files to include.
	// Applied in order after base and override.
	ExtensionFiles []string

	// ContainerNamePrefix is the prefix for container names.
	// Used for filtering in ForceCleanup.
	// Default: "sting-"
	ContainerNamePrefix string

	// DefaultTimeout is the default timeout for compose operations.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// UpOptions configures the Up operation.
type UpOptions struct {
	// ForceBuild rebuilds images even if they exist.
	// Maps to: --build flag
	ForceBuild bool

	// ForceRecreate recreates containers even if config is unchanged.
	// Maps to: --force-recreate flag
	ForceRecreate bool

	// Services limits which services to start.
	// Empty means all services.
	Services []string

	// Env contains environment variables to inject.
	// These are passed to compose and available to all services.
	Env map[string]string

	// RemoveOrphans removes containers for services not defined.
	// Default: false
	RemoveOrphans bool

	// Timeout overrides the default operation timeout.
	// Zero means use DefaultTimeout from config.
	Timeout time.Duration
}

// DownOptions configures the Down operation.
type DownOptions struct {
	// RemoveOrphans removes containers for services not in compose file.
	// Maps to: --remove-orphans flag
	RemoveOrphans bool

	// RemoveVolumes removes named volumes declared in compose file.
	// Maps to: -v flag
	// WARNING: This is destructive and cannot be undone.
	RemoveVolumes bool

	// Timeout for graceful container shutdown.
	// Default: 10 seconds per container
	Timeout time.Duration
}

// StopOptions configures the Stop operation.
type StopOptions struct {
	// GracefulTimeout is the time to wait for graceful shutdown (SIGTERM).
	// After this timeout, containers are force-stopped with SIGKILL.
	// Default: 10 seconds
	GracefulTimeout time.Duration

	// Services limits which services to stop.
	// Empty means all STING services (filter: name=sting-*).
	Services []string

	// SkipForceStop disables the automatic force-stop after graceful timeout.
	// If true, only sends SIGTERM and waits for GracefulTimeout.
	// Default: false (force-stop enabled)
	SkipForceStop bool
}

// StopResult contains the result of a Stop operation.
type StopResult struct {
	// TotalStopped is the total number of containers stopped.
	TotalStopped int

	// GracefulStopped is containers that stopped gracefully (SIGTERM).
	GracefulStopped int

	// ForceStopped is containers that required force stop (SIGKILL).
	ForceStopped int

	// ContainerNames lists all containers that were stopped.
	ContainerNames []string

	// Errors contains any non-fatal errors encountered.
	Errors []string
}

// RestartOptions configures the Restart operation.
type RestartOptions struct {
	// Services limits which services to restart.
	// Empty means all services.
	Services []string

	// Timeout for graceful container shutdown before restart.
	// Zero means compose default (10 seconds).
	Timeout time.Duration
}

// BuildOptions configures the Build operation.
type BuildOptions struct {
	// Services limits which services to build.
	// Empty means all services with a build section.
	Services []string

	// NoCache disables the build cache.
	// Maps to: --no-cache flag
	NoCache bool

	// Pull always attempts to pull newer base images.
	// Maps to: --pull flag
	Pull bool

	// Env contains environment variables available during the build.
	Env map[string]string

	// Timeout overrides the default operation timeout.
	// Builds can be slow; zero means 2x DefaultTimeout.
	Timeout time.Duration
}

// LogsOptions configures the Logs operation.
type LogsOptions struct {
	// Follow streams logs continuously.
	// Maps to: -f flag
	Follow bool

	// Services limits which services to show logs for.
	// Empty means all services.
	Services []string

	// Tail limits output to last N lines per container.
	// Zero means all logs.
	Tail int

	// Timestamps prepends each line with timestamp.
	// Maps to: --timestamps flag
	Timestamps bool

	// Since shows logs since timestamp.
	// Maps to: --since flag
	Since time.Time
}

// ExecOptions configures the Exec operation.
type ExecOptions struct {
	// Service is the compose service name.
	// Required.
	Service string

	// Command is the command and arguments to execute.
	// Required, must have at least one element.
	Command []string

	// User overrides the user to run as.
	// Maps to: --user flag
	User string

	// WorkDir overrides the working directory.
	// Maps to: --workdir flag
	WorkDir string

	// Env contains additional environment variables.
	Env map[string]string
}

// ComposeResult contains the result of a compose operation.
type ComposeResult struct {
	// Success indicates if the operation completed without error.
	Success bool

	// ExitCode is the exit code of the compose command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string

	// Duration is how long the operation took.
	Duration time.Duration

	// Command is the full command that was executed (for debugging).
	Command string
}

// ComposeStatus contains the current state of compose services.
type ComposeStatus struct {
	// Services contains status for each service.
	Services []ServiceStatus

	// Running is the count of running services.
	Running int

	// Stopped is the count of stopped services.
	Stopped int

	// Unhealthy is the count of unhealthy services.
	Unhealthy int
}

// ServiceStatus contains the status of a single service.
type ServiceStatus struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the actual container name.
	ContainerName string

	// State is the container state (running, exited, etc.).
	State string

	// Healthy indicates health check status.
	// nil means no health check defined.
	Healthy *bool

	// Ports contains published port mappings.
	Ports []PortMapping

	// Image is the container image.
	Image string
}

// PortMapping represents a port binding.
type PortMapping struct {
	// HostIP is the host interface (usually 0.0.0.0).
	HostIP string

	// HostPort is the port on the host.
	HostPort int

	// ContainerPort is the port in the container.
	ContainerPort int

	// Protocol is tcp or udp.
	Protocol string
}

// CleanupResult contains details of a ForceCleanup operation.
type CleanupResult struct {
	// ContainersStopped is the number of containers force-stopped.
	ContainersStopped int

	// ContainersRemoved is the number of containers removed.
	ContainersRemoved int

	// ContainerNames lists the names of removed containers.
	ContainerNames []string

	// Errors contains any non-fatal errors encountered.
	Errors []string
}

// ExecResult contains the result of an Exec operation.
type ExecResult struct {
	// ExitCode is the exit code of the executed command.
	ExitCode int

	// Stdout contains standard output.
	Stdout string

	// Stderr contains standard error.
	Stderr string
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultComposeExecutor implements ComposeExecutor using docker compose.
type DefaultComposeExecutor struct {
	config     ComposeConfig
	proc       process.Manager
	osStatFunc func(string) (os.FileInfo, error)
	mu         sync.Mutex
}

// NewDefaultComposeExecutor creates a new ComposeExecutor with the given configuration.
//
// # Description
//
// Creates an executor configured for docker compose operations.
// Validates the configuration and sets sensible defaults.
//
// # Inputs
//
//   - cfg: Compose configuration (StackDir required)
//   - proc: Manager for command execution
//
// # Outputs
//
//   - *DefaultComposeExecutor: Configured executor
//   - error: If configuration is invalid
//
// # Example
//
//	executor, err := NewDefaultComposeExecutor(ComposeConfig{
//	    StackDir:    "/home/user/.sting",
//	    ProjectName: "sting",
//	}, processManager)
//
// # Defaults Applied
//
//   - ProjectName: "sting"
//   - BaseFile: "docker-compose.yml"
//   - OverrideFile: "docker-compose.override.yml"
//   - ContainerNamePrefix: "sting-"
//   - DefaultTimeout: 5 minutes
//
// # Limitations
//
//   - Does not verify docker is installed (checked at runtime)
//   - Does not verify StackDir exists (checked at runtime)
//
// # Assumptions
//
//   - StackDir will exist when operations are executed
//   - Manager is properly initialized and not nil
func NewDefaultComposeExecutor(cfg ComposeConfig, proc process.Manager) (*DefaultComposeExecutor, error) {
	if err := validateComposeConfig(&cfg); err != nil {
		return nil, err
	}

	applyComposeConfigDefaults(&cfg)

	return &DefaultComposeExecutor{
		config:     cfg,
		proc:       proc,
		osStatFunc: os.Stat,
	}, nil
}

// validateComposeConfig validates the ComposeConfig fields.
func validateComposeConfig(cfg *ComposeConfig) error {
	if cfg.StackDir == "" {
		return fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}
	return nil
}

// applyComposeConfigDefaults applies default values to empty fields.
func applyComposeConfigDefaults(cfg *ComposeConfig) {
	if cfg.ProjectName == "" {
		cfg.ProjectName = "sting"
	}
	if cfg.BaseFile == "" {
		cfg.BaseFile = "docker-compose.yml"
	}
	if cfg.OverrideFile == "" {
		cfg.OverrideFile = "docker-compose.override.yml"
	}
	if cfg.ContainerNamePrefix == "" {
		cfg.ContainerNamePrefix = "sting-"
	}
	cfg.DefaultTimeout = util.EnforceDefaultTimeout(cfg.DefaultTimeout, util.DefaultComposeTimeout)
}

// =============================================================================
// Interface Implementation
// =============================================================================

// Up starts services defined in the compose configuration.
//
// # Description
//
// Executes `docker compose up -d` with optional build flag.
// Composes files in order: base -> override -> extensions.
// Injects environment variables from the provided map.
// Acquires mutex to serialize with other mutating operations.
//
// # Limitations
//
//   - Does not verify service health after startup (use HealthChecker)
//   - Blocks until containers are started (not until healthy)
//
// # Assumptions
//
//   - Docker daemon is running and accessible
//   - Compose files exist at configured paths
//   - Required env files are pre-generated
func (e *DefaultComposeExecutor) Up(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
	// Validate env vars before proceeding to prevent config injection
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "up", "-d")

	if opts.ForceBuild {
		args = append(args, "--build")
	}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, opts.Env, timeout)
}

// Down stops and removes containers defined in compose configuration.
//
// # Description
//
// Executes `docker compose down` with optional flags for orphan
// removal and volume deletion. Acquires mutex to serialize with
// other mutating operations.
//
// # Limitations
//
//   - Volume removal is irreversible
//   - May fail if containers are stuck (use Stop() first)
func (e *DefaultComposeExecutor) Down(ctx context.Context, opts DownOptions) (*ComposeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "down")

	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "-v")
	}

	timeout := e.resolveTimeout(opts.Timeout)

	return e.runCompose(ctx, args, nil, timeout)
}

// Stop stops all STING containers with timeout-based escalation.
//
// # Description
//
// Stops containers using a multi-phase approach:
//  1. Graceful stop: Sends SIGTERM, waits GracefulTimeout (default 10s)
//  2. Force stop: Sends SIGKILL to any remaining containers
//
// This ensures containers are stopped even if they ignore SIGTERM.
// Acquires mutex to serialize with other mutating operations.
//
// # Limitations
//
//   - Does not remove containers (use Down() or ForceCleanup() after)
//   - Error list may contain non-fatal errors even on success
func (e *DefaultComposeExecutor) Stop(ctx context.Context, opts StopOptions) (*StopResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &StopResult{
		ContainerNames: []string{},
		Errors:         []string{},
	}

	gracefulTimeout := e.resolveGracefulTimeout(opts.GracefulTimeout)

	runningBefore, err := e.listRunningContainers(ctx, opts.Services)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list containers: %v", err))
	}
	if len(runningBefore) == 0 {
		return result, nil
	}
	result.ContainerNames = append(result.ContainerNames, runningBefore...)

	// Phase 1: graceful stop
	if err := e.stopContainers(ctx, runningBefore, gracefulTimeout); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("graceful stop: %v", err))
	}

	runningAfterGraceful, err := e.listRunningContainers(ctx, opts.Services)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("re-list after graceful stop: %v", err))
	}
	result.GracefulStopped = len(runningBefore) - len(runningAfterGraceful)

	// Phase 2: force stop any stragglers
	if !opts.SkipForceStop && len(runningAfterGraceful) > 0 {
		if err := e.stopContainers(ctx, runningAfterGraceful, 0); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("force stop: %v", err))
		}

		runningAfterForce, err := e.listRunningContainers(ctx, opts.Services)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("re-list after force stop: %v", err))
		}
		result.ForceStopped = len(runningAfterGraceful) - len(runningAfterForce)
	}

	result.TotalStopped = result.GracefulStopped + result.ForceStopped

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("stop completed with errors: %v", result.Errors)
	}
	return result, nil
}

// Restart restarts services in place without recreating containers.
//
// # Description
//
// Executes `docker compose restart`. Container configuration is not
// re-read; use Up with ForceRecreate for config changes.
func (e *DefaultComposeExecutor) Restart(ctx context.Context, opts RestartOptions) (*ComposeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "restart")

	if opts.Timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(opts.Timeout.Seconds())))
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	return e.runCompose(ctx, args, nil, e.config.DefaultTimeout)
}

// Build builds images for the given services.
//
// # Description
//
// Executes `docker compose build` with optional cache and pull flags.
// Builds are given twice the default timeout unless overridden, since
// image builds routinely outlast container operations.
func (e *DefaultComposeExecutor) Build(ctx context.Context, opts BuildOptions) (*ComposeResult, error) {
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeFileArgs()
	args = append(args, "build")

	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Pull {
		args = append(args, "--pull")
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 2 * e.config.DefaultTimeout
	}

	return e.runCompose(ctx, args, opts.Env, timeout)
}

// Logs streams container logs to the provided writer.
//
// # Description
//
// Executes `docker compose logs` with optional follow mode.
// Streams logs to the provided io.Writer until context is cancelled.
// Does not acquire mutex (read-only operation).
//
// # Limitations
//
//   - Follow mode blocks until context cancellation
func (e *DefaultComposeExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	args := e.buildComposeFileArgs()
	args = append(args, "logs")

	if opts.Follow {
		args = append(args, "-f")
	}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	if opts.Timestamps {
		args = append(args, "--timestamps")
	}
	if !opts.Since.IsZero() {
		args = append(args, "--since", opts.Since.Format(time.RFC3339))
	}
	if len(opts.Services) > 0 {
		args = append(args, opts.Services...)
	}

	return e.runComposeStreaming(ctx, args, w)
}

// Status returns the current state of compose services.
//
// # Description
//
// Executes `docker ps` with JSON output and parses the result.
// Returns status for all containers (running, stopped, exited)
// matching the configured name prefix.
// Does not acquire mutex (read-only operation).
//
// # Limitations
//
//   - Health status may lag actual container state
//   - Parsing depends on docker ps --format json output structure
func (e *DefaultComposeExecutor) Status(ctx context.Context) (*ComposeStatus, error) {
	args := []string{
		"ps",
		"-a",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--format", "{{json .}}",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get container status: %w", err)
	}

	return e.parseContainerStatus(output.Stdout)
}

// IsServiceRunning reports whether a container with the exact name is running.
func (e *DefaultComposeExecutor) IsServiceRunning(ctx context.Context, containerName string) (bool, error) {
	args := []string{
		"ps", "-q",
		"--filter", fmt.Sprintf("name=^%s$", containerName),
		"--filter", "status=running",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		return false, fmt.Errorf("failed to query container %s: %w", containerName, err)
	}

	return len(e.parseLines(output.Stdout)) > 0, nil
}

// RemoveContainer force-removes a single container by name.
//
// Missing containers are not an error, so removal is safe to call
// unconditionally before a rebuild.
func (e *DefaultComposeExecutor) RemoveContainer(ctx context.Context, containerName string) error {
	result, err := e.runDocker(ctx, []string{"rm", "-f", containerName}, 30*time.Second)
	if err != nil {
		if result != nil && strings.Contains(result.Stderr, "No such container") {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerName, err)
	}
	return nil
}

// RemoveImage removes an image by reference.
//
// Missing images are not an error.
func (e *DefaultComposeExecutor) RemoveImage(ctx context.Context, imageRef string) error {
	result, err := e.runDocker(ctx, []string{"rmi", "-f", imageRef}, 60*time.Second)
	if err != nil {
		if result != nil && strings.Contains(result.Stderr, "No such image") {
			return nil
		}
		return fmt.Errorf("failed to remove image %s: %w", imageRef, err)
	}
	return nil
}

// ForceCleanup removes all STING containers regardless of compose state.
//
// # Description
//
// Nuclear option when compose down fails. Executes three steps:
//  1. Force stop all matching containers (docker stop -t 0)
//  2. Force remove by name prefix (name=sting-*)
//  3. Force remove by compose project label
//
// Each step continues even if previous steps fail.
// Acquires mutex to serialize with other mutating operations.
//
// # Outputs
//
//   - *CleanupResult: Contains counts and error list
//   - error: ErrCleanupPartial if some steps failed, nil otherwise
//
// # Example
//
//	result, err := executor.ForceCleanup(ctx)
//	if errors.Is(err, ErrCleanupPartial) {
//	    log.Printf("Partial cleanup: %v", result.Errors)
//	}
func (e *DefaultComposeExecutor) ForceCleanup(ctx context.Context) (*CleanupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &CleanupResult{
		ContainerNames: []string{},
		Errors:         []string{},
	}

	e.forceStopForCleanup(ctx, result)
	e.removeContainersByName(ctx, result)
	e.removeContainersByLabel(ctx, result)

	if len(result.Errors) > 0 {
		return result, ErrCleanupPartial
	}
	return result, nil
}

// Exec runs a command inside a running service container.
//
// # Description
//
// Executes `docker compose exec -T <service> <command>`.
// Returns ErrContainerNotRunning if the target container is stopped.
//
// # Limitations
//
//   - Always runs without a TTY
//   - Output is captured, not streamed
func (e *DefaultComposeExecutor) Exec(ctx context.Context, opts ExecOptions) (*ExecResult, error) {
	if err := e.validateExecOptions(opts); err != nil {
		return nil, err
	}
	if err := e.validateEnvVars(opts.Env); err != nil {
		return nil, err
	}

	args := e.buildExecArgs(opts)

	result, err := e.runCompose(ctx, args, nil, e.config.DefaultTimeout)
	if err != nil {
		if e.isContainerNotRunningError(result) {
			return nil, fmt.Errorf("%w: service %s", ErrContainerNotRunning, opts.Service)
		}
		execResult := &ExecResult{ExitCode: -1}
		if result != nil {
			execResult.ExitCode = result.ExitCode
			execResult.Stdout = result.Stdout
			execResult.Stderr = result.Stderr
		}
		return execResult, err
	}

	return &ExecResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, nil
}

// GetComposeFiles returns the resolved compose file paths in layering order.
//
// # Description
//
// Returns absolute paths for the base file, the override file (if it
// exists on disk), and any extension files (if they exist on disk).
func (e *DefaultComposeExecutor) GetComposeFiles() []string {
	files := []string{filepath.Join(e.config.StackDir, e.config.BaseFile)}

	override := filepath.Join(e.config.StackDir, e.config.OverrideFile)
	if e.fileExists(override) {
		files = append(files, override)
	}

	for _, ext := range e.config.ExtensionFiles {
		path := filepath.Join(e.config.StackDir, ext)
		if e.fileExists(path) {
			files = append(files, path)
		}
	}

	return files
}

// =============================================================================
// Private Helper Methods
// =============================================================================

// buildComposeFileArgs builds the -f arguments for compose files.
func (e *DefaultComposeExecutor) buildComposeFileArgs() []string {
	args := []string{"compose", "-p", e.config.ProjectName}

	for _, file := range e.GetComposeFiles() {
		args = append(args, "-f", file)
	}

	return args
}

// runCompose executes a docker compose command.
//
// # Description
//
// Runs docker with the given compose arguments, environment, and timeout.
// Logs the command being executed (with sensitive values redacted).
// Creates a child context with the specified timeout.
//
// # Limitations
//
//   - Captures all output in memory (not suitable for streaming)
func (e *DefaultComposeExecutor) runCompose(ctx context.Context, args []string, env map[string]string, timeout time.Duration) (*ComposeResult, error) {
	start := time.Now()

	cmdEnv := e.buildCommandEnvironment(env)
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))
	e.logCommand(cmdStr, env)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.StackDir, cmdEnv, "docker", args...)

	result := &ComposeResult{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose command exited with code %d: %s", exitCode, stderr)
	}

	return result, nil
}

// runComposeStreaming executes a docker compose command with streaming output.
//
// Used for logs with follow mode. Output is not captured.
func (e *DefaultComposeExecutor) runComposeStreaming(ctx context.Context, args []string, w io.Writer) error {
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))
	e.logCommand(cmdStr, nil)

	return e.proc.RunStreaming(ctx, e.config.StackDir, w, "docker", args...)
}

// runDocker executes a direct docker command.
//
// # Description
//
// Runs docker (not compose) for operations like stop, rm, ps.
// Used when we need direct container manipulation rather than
// going through compose.
func (e *DefaultComposeExecutor) runDocker(ctx context.Context, args []string, timeout time.Duration) (*ComposeResult, error) {
	start := time.Now()
	cmdStr := fmt.Sprintf("docker %s", strings.Join(args, " "))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, "", nil, "docker", args...)

	result := &ComposeResult{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("docker command failed: %w", err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("docker command exited with code %d: %s", exitCode, stderr)
	}

	return result, nil
}

// listRunningContainers returns names of running containers matching the prefix.
//
// If services is non-empty, only containers for those services are
// returned (matched as prefix+service).
func (e *DefaultComposeExecutor) listRunningContainers(ctx context.Context, services []string) ([]string, error) {
	args := []string{
		"ps",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--filter", "status=running",
		"--format", "{{.Names}}",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		return nil, err
	}

	names := e.parseLines(output.Stdout)
	if len(services) == 0 {
		return names, nil
	}

	wanted := make(map[string]bool, len(services))
	for _, s := range services {
		wanted[e.config.ContainerNamePrefix+s] = true
	}

	filtered := []string{}
	for _, name := range names {
		if wanted[name] {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

// stopContainers stops the named containers with the given grace period.
//
// docker stop has no --filter flag, so containers must be named
// explicitly. A zero timeout sends SIGKILL immediately.
func (e *DefaultComposeExecutor) stopContainers(ctx context.Context, names []string, timeout time.Duration) error {
	if len(names) == 0 {
		return nil
	}

	args := []string{"stop", "-t", strconv.Itoa(int(timeout.Seconds()))}
	args = append(args, names...)

	opTimeout := timeout + 30*time.Second
	_, err := e.runDocker(ctx, args, opTimeout)
	return err
}

// parseContainerStatus parses docker ps JSON output to ComposeStatus.
//
// # Description
//
// docker ps --format '{{json .}}' emits one JSON object per line
// (not an array), with Names and Ports as plain strings. Each line
// is decoded independently and converted to a ServiceStatus.
//
// # Limitations
//
//   - Depends on docker's ps JSON field names
//   - Health status extracted from the Status string
func (e *DefaultComposeExecutor) parseContainerStatus(jsonOutput string) (*ComposeStatus, error) {
	status := &ComposeStatus{
		Services: []ServiceStatus{},
	}

	for _, line := range e.parseLines(jsonOutput) {
		var c struct {
			Names  string `json:"Names"`
			State  string `json:"State"`
			Status string `json:"Status"`
			Image  string `json:"Image"`
			Ports  string `json:"Ports"`
		}
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("failed to parse container JSON: %w", err)
		}

		svc := ServiceStatus{
			Name:          e.extractServiceName(c.Names),
			ContainerName: c.Names,
			State:         c.State,
			Image:         c.Image,
			Healthy:       e.parseHealthStatus(c.Status),
			Ports:         e.parsePorts(c.Ports),
		}

		status.Services = append(status.Services, svc)
		e.updateStatusCounts(status, c.State, svc.Healthy)
	}

	return status, nil
}

// parsePorts parses docker's Ports column into structured mappings.
//
// Input looks like "0.0.0.0:5432->5432/tcp, :::5432->5432/tcp".
// Entries without a host binding (exposed only) are skipped.
func (e *DefaultComposeExecutor) parsePorts(ports string) []PortMapping {
	mappings := []PortMapping{}

	for _, entry := range strings.Split(ports, ",") {
		entry = strings.TrimSpace(entry)
		m := portMappingRegex.FindStringSubmatch(entry)
		if m == nil {
			continue
		}

		hostPort, err1 := strconv.Atoi(m[2])
		containerPort, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil {
			continue
		}

		mappings = append(mappings, PortMapping{
			HostIP:        m[1],
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      m[4],
		})
	}

	return mappings
}

// updateStatusCounts updates the running/stopped/unhealthy counts.
func (e *DefaultComposeExecutor) updateStatusCounts(status *ComposeStatus, state string, healthy *bool) {
	switch state {
	case "running":
		status.Running++
	case "exited", "stopped", "created", "dead":
		status.Stopped++
	}
	if healthy != nil && !*healthy {
		status.Unhealthy++
	}
}

// parseHealthStatus extracts health status from the Status string.
//
// Looks for "(healthy)" or "(unhealthy)" in strings like
// "Up 2 hours (healthy)". Returns nil if no healthcheck is defined.
func (e *DefaultComposeExecutor) parseHealthStatus(statusStr string) *bool {
	if strings.Contains(statusStr, "unhealthy") {
		healthy := false
		return &healthy
	}
	if strings.Contains(statusStr, "healthy") {
		healthy := true
		return &healthy
	}
	return nil
}

// extractServiceName extracts the compose service name from a container name.
//
// Container names follow the pattern prefix-servicename or
// prefix-servicename-N. The prefix and any trailing replica index
// are stripped.
func (e *DefaultComposeExecutor) extractServiceName(containerName string) string {
	name := strings.TrimPrefix(containerName, e.config.ContainerNamePrefix)

	parts := strings.Split(name, "-")
	if len(parts) > 1 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			parts = parts[:len(parts)-1]
		}
	}

	return strings.Join(parts, "-")
}

// forceStopForCleanup force-stops matching containers as part of cleanup.
//
// Errors are recorded in the result but do not halt cleanup.
func (e *DefaultComposeExecutor) forceStopForCleanup(ctx context.Context, result *CleanupResult) {
	names, err := e.listRunningContainers(ctx, nil)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list for force stop: %v", err))
		return
	}
	if len(names) == 0 {
		return
	}

	if err := e.stopContainers(ctx, names, 0); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("force stop: %v", err))
		return
	}
	result.ContainersStopped += len(names)
}

// removeContainersByName removes containers matching the name prefix.
//
// docker rm has no --filter flag, so the container list is resolved
// first and removal is per-name.
func (e *DefaultComposeExecutor) removeContainersByName(ctx context.Context, result *CleanupResult) {
	args := []string{
		"ps", "-a",
		"--filter", fmt.Sprintf("name=%s", e.config.ContainerNamePrefix),
		"--format", "{{.Names}}",
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list by name: %v", err))
		return
	}

	for _, name := range e.parseLines(output.Stdout) {
		if _, err := e.runDocker(ctx, []string{"rm", "-f", name}, 30*time.Second); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", name, err))
			continue
		}
		result.ContainerNames = append(result.ContainerNames, name)
		result.ContainersRemoved++
	}
}

// removeContainersByLabel removes containers by the compose project label.
//
// Catches containers that were renamed or do not match the name prefix.
func (e *DefaultComposeExecutor) removeContainersByLabel(ctx context.Context, result *CleanupResult) {
	args := []string{
		"ps", "-aq",
		"--filter", fmt.Sprintf("label=com.docker.compose.project=%s", e.config.ProjectName),
	}

	output, err := e.runDocker(ctx, args, 30*time.Second)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list by label: %v", err))
		return
	}

	for _, id := range e.parseLines(output.Stdout) {
		if _, err := e.runDocker(ctx, []string{"rm", "-f", id}, 30*time.Second); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", id, err))
			continue
		}
		result.ContainersRemoved++
	}
}

// validateExecOptions validates required exec fields.
func (e *DefaultComposeExecutor) validateExecOptions(opts ExecOptions) error {
	if opts.Service == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	if len(opts.Command) == 0 {
		return fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}
	return nil
}

// buildExecArgs builds arguments for the exec command.
//
// Always includes -T (no TTY).
func (e *DefaultComposeExecutor) buildExecArgs(opts ExecOptions) []string {
	args := e.buildComposeFileArgs()
	args = append(args, "exec", "-T")

	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	args = append(args, opts.Service)
	args = append(args, opts.Command...)

	return args
}

// isContainerNotRunningError checks if stderr indicates a stopped container.
func (e *DefaultComposeExecutor) isContainerNotRunningError(result *ComposeResult) bool {
	if result == nil {
		return false
	}
	return strings.Contains(result.Stderr, "not running") ||
		strings.Contains(result.Stderr, "No such container")
}

// buildCommandEnvironment builds the environment for command execution.
//
// User-provided variables override existing environment variables with
// the same key to ensure deterministic behavior.
func (e *DefaultComposeExecutor) buildCommandEnvironment(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// resolveTimeout returns the timeout to use, applying default if zero.
func (e *DefaultComposeExecutor) resolveTimeout(timeout time.Duration) time.Duration {
	return util.EnforceDefaultTimeout(timeout, e.config.DefaultTimeout)
}

// resolveGracefulTimeout returns the graceful timeout to use.
func (e *DefaultComposeExecutor) resolveGracefulTimeout(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return 10 * time.Second
	}
	return timeout
}

// fileExists checks if a file exists using the injected stat function.
func (e *DefaultComposeExecutor) fileExists(path string) bool {
	_, err := e.osStatFunc(path)
	return err == nil
}

// parseLines splits output into non-empty trimmed lines.
func (e *DefaultComposeExecutor) parseLines(output string) []string {
	lines := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// logCommand logs the command being executed, redacting sensitive values.
func (e *DefaultComposeExecutor) logCommand(cmd string, env map[string]string) {
	fmt.Printf("Executing: %s (in %s)\n", cmd, e.config.StackDir)
	if len(env) > 0 {
		fmt.Println("  Environment:")
		for k, v := range env {
			if e.isSensitiveEnvVar(k) {
				fmt.Printf("    - %s=[REDACTED]\n", k)
			} else {
				fmt.Printf("    - %s=%s\n", k, v)
			}
		}
	}
}

// isSensitiveEnvVar checks if an environment variable name is sensitive.
//
// Pattern-based check for TOKEN, SECRET, KEY, PASSWORD, CREDENTIAL.
func (e *DefaultComposeExecutor) isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "CREDENTIAL")
}

// validateEnvVars validates all environment variable keys in the map.
//
// Ensures all keys match the allowed pattern to prevent config
// injection through malformed env var names.
func (e *DefaultComposeExecutor) validateEnvVars(env map[string]string) error {
	for key := range env {
		if !envVarKeyRegex.MatchString(key) {
			return fmt.Errorf("%w: key %q contains invalid characters (must match [a-zA-Z_][a-zA-Z0-9_]*)", ErrInvalidEnvVar, key)
		}
	}
	return nil
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockComposeExecutor is a test double for ComposeExecutor.
//
// # Description
//
// Provides a configurable mock implementation for testing.
// Each method can be configured with a custom function.
// Tracks all calls for verification.
//
// # Example
//
//	mock := &MockComposeExecutor{
//	    UpFunc: func(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
//	        return &ComposeResult{Success: true}, nil
//	    },
//	}
//	result, _ := mock.Up(ctx, UpOptions{})
//	assert.Equal(t, 1, len(mock.UpCalls))
type MockComposeExecutor struct {
	UpFunc               func(context.Context, UpOptions) (*ComposeResult, error)
	DownFunc             func(context.Context, DownOptions) (*ComposeResult, error)
	StopFunc             func(context.Context, StopOptions) (*StopResult, error)
	RestartFunc          func(context.Context, RestartOptions) (*ComposeResult, error)
	BuildFunc            func(context.Context, BuildOptions) (*ComposeResult, error)
	LogsFunc             func(context.Context, LogsOptions, io.Writer) error
	StatusFunc           func(context.Context) (*ComposeStatus, error)
	IsServiceRunningFunc func(context.Context, string) (bool, error)
	RemoveContainerFunc  func(context.Context, string) error
	RemoveImageFunc      func(context.Context, string) error
	ForceCleanupFunc     func(context.Context) (*CleanupResult, error)
	ExecFunc             func(context.Context, ExecOptions) (*ExecResult, error)
	GetComposeFilesFunc  func() []string

	UpCalls           []UpOptions
	DownCalls         []DownOptions
	StopCalls         []StopOptions
	RestartCalls      []RestartOptions
	BuildCalls        []BuildOptions
	RemovedContainers []string
	RemovedImages     []string
	CleanupCalls      int
	mu                sync.Mutex
}

// Up implements ComposeExecutor.
func (m *MockComposeExecutor) Up(ctx context.Context, opts UpOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.UpCalls = append(m.UpCalls, opts)
	m.mu.Unlock()

	if m.UpFunc != nil {
		return m.UpFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Down implements ComposeExecutor.
func (m *MockComposeExecutor) Down(ctx context.Context, opts DownOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.DownCalls = append(m.DownCalls, opts)
	m.mu.Unlock()

	if m.DownFunc != nil {
		return m.DownFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Stop implements ComposeExecutor.
func (m *MockComposeExecutor) Stop(ctx context.Context, opts StopOptions) (*StopResult, error) {
	m.mu.Lock()
	m.StopCalls = append(m.StopCalls, opts)
	m.mu.Unlock()

	if m.StopFunc != nil {
		return m.StopFunc(ctx, opts)
	}
	return &StopResult{}, nil
}

// Restart implements ComposeExecutor.
func (m *MockComposeExecutor) Restart(ctx context.Context, opts RestartOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.RestartCalls = append(m.RestartCalls, opts)
	m.mu.Unlock()

	if m.RestartFunc != nil {
		return m.RestartFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Build implements ComposeExecutor.
func (m *MockComposeExecutor) Build(ctx context.Context, opts BuildOptions) (*ComposeResult, error) {
	m.mu.Lock()
	m.BuildCalls = append(m.BuildCalls, opts)
	m.mu.Unlock()

	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, opts)
	}
	return &ComposeResult{Success: true}, nil
}

// Logs implements ComposeExecutor.
func (m *MockComposeExecutor) Logs(ctx context.Context, opts LogsOptions, w io.Writer) error {
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, opts, w)
	}
	return nil
}

// Status implements ComposeExecutor.
func (m *MockComposeExecutor) Status(ctx context.Context) (*ComposeStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &ComposeStatus{Services: []ServiceStatus{}}, nil
}

// IsServiceRunning implements ComposeExecutor.
func (m *MockComposeExecutor) IsServiceRunning(ctx context.Context, containerName string) (bool, error) {
	if m.IsServiceRunningFunc != nil {
		return m.IsServiceRunningFunc(ctx, containerName)
	}
	return false, nil
}

// RemoveContainer implements ComposeExecutor.
func (m *MockComposeExecutor) RemoveContainer(ctx context.Context, containerName string) error {
	m.mu.Lock()
	m.RemovedContainers = append(m.RemovedContainers, containerName)
	m.mu.Unlock()

	if m.RemoveContainerFunc != nil {
		return m.RemoveContainerFunc(ctx, containerName)
	}
	return nil
}

// RemoveImage implements ComposeExecutor.
func (m *MockComposeExecutor) RemoveImage(ctx context.Context, imageRef string) error {
	m.mu.Lock()
	m.RemovedImages = append(m.RemovedImages, imageRef)
	m.mu.Unlock()

	if m.RemoveImageFunc != nil {
		return m.RemoveImageFunc(ctx, imageRef)
	}
	return nil
}

// ForceCleanup implements ComposeExecutor.
func (m *MockComposeExecutor) ForceCleanup(ctx context.Context) (*CleanupResult, error) {
	m.mu.Lock()
	m.CleanupCalls++
	m.mu.Unlock()

	if m.ForceCleanupFunc != nil {
		return m.ForceCleanupFunc(ctx)
	}
	return &CleanupResult{}, nil
}

// Exec implements ComposeExecutor.
func (m *MockComposeExecutor) Exec(ctx context.Context, opts ExecOptions) (*ExecResult, error) {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, opts)
	}
	return &ExecResult{ExitCode: 0}, nil
}

// GetComposeFiles implements ComposeExecutor.
func (m *MockComposeExecutor) GetComposeFiles() []string {
	if m.GetComposeFilesFunc != nil {
		return m.GetComposeFilesFunc()
	}
	return []string{}
}

// Compile-time interface compliance checks.
var (
	_ ComposeExecutor = (*DefaultComposeExecutor)(nil)
	_ ComposeExecutor = (*MockComposeExecutor)(nil)
)
