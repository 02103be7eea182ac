// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Health probe engine for the service startup sequence.

The checker turns a ServiceDescriptor into an observed HealthState by
probing over HTTP, TCP, in-container exec, or container runtime state.
WaitForService retries at the descriptor's fixed interval inside the
descriptor's attempt budget; WaitForTier probes a whole tier with
bounded parallelism so twenty services don't hammer the host at once.

Criticality is NOT enforced here. The checker reports what it saw; the
sequencer decides whether a failure aborts startup.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/diagnostics"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/compose"
	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrProbeTimeout indicates a service exhausted its attempt budget.
var ErrProbeTimeout = errors.New("service probe timed out")

// ErrEssentialServiceFailed indicates an essential service did not converge.
var ErrEssentialServiceFailed = errors.New("essential service failed")

// ErrProbeBlocked indicates a probe URL was rejected by the SSRF guard.
var ErrProbeBlocked = errors.New("probe URL blocked")

// =============================================================================
// INTERFACE
// =============================================================================

// HealthChecker probes services and waits for them to become healthy.
//
// # Description
//
// Abstracts readiness gating so the sequencer and reinstall manager can
// be tested against a mock. All methods are safe for concurrent use.
//
// # Examples
//
//	checker := NewDefaultHealthChecker(deps)
//	result, err := checker.WaitForService(ctx, svc, DefaultWaitOptions())
//	if errors.Is(err, ErrProbeTimeout) {
//	    fmt.Println(result.LogTail)
//	}
type HealthChecker interface {
	// Probe performs a single probe attempt against one service.
	//
	// Never returns an error: failures are encoded in the result state
	// and message.
	Probe(ctx context.Context, svc ServiceDescriptor) *ProbeResult

	// WaitForService retries Probe at the descriptor's interval until
	// the service is healthy or its attempt budget is exhausted.
	//
	// # Outputs
	//
	//   - *ProbeResult: Always non-nil, with the final state and the
	//     log tail populated on failure
	//   - error: ErrProbeTimeout wrapped with the service name on
	//     exhaustion, ctx.Err() on cancellation
	WaitForService(ctx context.Context, svc ServiceDescriptor, opts WaitOptions) (*ProbeResult, error)

	// WaitForTier waits for every service in a tier concurrently.
	//
	// Parallelism is bounded by opts.Parallelism. The tier result
	// classifies failures by criticality; an error is returned only on
	// context cancellation.
	WaitForTier(ctx context.Context, tier []ServiceDescriptor, opts WaitOptions) (*TierResult, error)

	// IsContainerRunning reports whether the named container is running.
	IsContainerRunning(ctx context.Context, containerName string) (bool, error)
}

// HealthHTTPClient abstracts the HTTP client for testing.
type HealthHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// HealthCheckerDeps carries the collaborators of the default checker.
type HealthCheckerDeps struct {
	// Compose executes exec probes and container state queries.
	Compose compose.ComposeExecutor

	// Metrics records probe attempts and wait durations.
	Metrics diagnostics.LifecycleMetrics

	// Logger receives per-attempt diagnostics at debug level.
	Logger *logging.Logger

	// ContainerPrefix resolves container names for descriptors that
	// don't set one. Default: "sting-"
	ContainerPrefix string

	// AttemptTimeout bounds a single probe attempt when the descriptor
	// doesn't override it. Default: 5 seconds
	AttemptTimeout time.Duration

	// LogTailLines is how many log lines to fetch for failed services.
	// Default: 40
	LogTailLines int

	// HTTPClient overrides the probe HTTP client. Default: 5s timeout,
	// redirects not followed.
	HTTPClient HealthHTTPClient
}

func (d *HealthCheckerDeps) applyDefaults() {
	if d.ContainerPrefix == "" {
		d.ContainerPrefix = "sting-"
	}
	d.AttemptTimeout = util.EnforceDefaultTimeout(d.AttemptTimeout, util.DefaultProbeTimeout)
	if d.LogTailLines == 0 {
		d.LogTailLines = 40
	}
	if d.Metrics == nil {
		d.Metrics = diagnostics.NewNoOpLifecycleMetrics()
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{
			Timeout: d.AttemptTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
}

// =============================================================================
// SSRF GUARD
// =============================================================================

// isProbeURLSafe rejects probe targets pointing at sensitive endpoints.
//
// # Description
//
// Probe URLs come from the startup plan, which operators may override
// from a file. Localhost, docker bridge, and RFC1918 ranges are the
// expected targets; the cloud metadata endpoint and other link-local
// addresses are blocked.
func isProbeURLSafe(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname (not IP): allow DNS resolution
		return nil
	}

	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata endpoint", ErrProbeBlocked)
	}

	linkLocal := net.IPNet{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)}
	if linkLocal.Contains(ip) {
		return fmt.Errorf("%w: link-local address", ErrProbeBlocked)
	}

	return nil
}

// =============================================================================
// DEFAULT IMPLEMENTATION
// =============================================================================

// DefaultHealthChecker probes services through the compose facade and
// direct network connections.
type DefaultHealthChecker struct {
	deps HealthCheckerDeps
}

// NewDefaultHealthChecker creates a production health checker.
//
// # Inputs
//
//   - deps: Collaborators; Compose is required, everything else defaults
//
// # Examples
//
//	checker := NewDefaultHealthChecker(HealthCheckerDeps{
//	    Compose: executor,
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
func NewDefaultHealthChecker(deps HealthCheckerDeps) *DefaultHealthChecker {
	deps.applyDefaults()
	return &DefaultHealthChecker{deps: deps}
}

// containerNameFor resolves the container name for a descriptor.
func (h *DefaultHealthChecker) containerNameFor(svc ServiceDescriptor) string {
	if svc.ContainerName != "" {
		return svc.ContainerName
	}
	return h.deps.ContainerPrefix + svc.Name
}

// attemptTimeoutFor resolves the per-attempt timeout for a descriptor,
// floored so a typo in a plan override can't make probes hang on the
// attempt boundary instead of the budget.
func (h *DefaultHealthChecker) attemptTimeoutFor(svc ServiceDescriptor) time.Duration {
	timeout := util.EnforceDefaultTimeout(svc.AttemptTimeout, h.deps.AttemptTimeout)
	return util.EnforceMinTimeout(timeout, util.MinProbeTimeout)
}

// Probe performs a single probe attempt.
//
// # Description
//
// Dispatches on the probe kind. The result state is Healthy on success,
// Unhealthy when the service responded but failed the check, NotFound
// when the container does not exist, and Unknown when the probe itself
// could not run (e.g. a blocked URL).
func (h *DefaultHealthChecker) Probe(ctx context.Context, svc ServiceDescriptor) *ProbeResult {
	start := time.Now()
	result := &ProbeResult{
		ID:       GenerateID(),
		Service:  svc.Name,
		State:    HealthUnknown,
		Attempts: 1,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, h.attemptTimeoutFor(svc))
	defer cancel()

	switch svc.Probe.Kind {
	case ProbeHTTP:
		h.probeHTTP(attemptCtx, svc, result)
	case ProbeTCP:
		h.probeTCP(attemptCtx, svc, result)
	case ProbeExec:
		h.probeExec(attemptCtx, svc, result)
	case ProbeContainerRunning:
		h.probeContainerRunning(attemptCtx, svc, result)
	default:
		result.Message = fmt.Sprintf("unknown probe kind %q", svc.Probe.Kind)
	}

	result.Duration = time.Since(start)
	result.LastChecked = time.Now()

	h.deps.Metrics.RecordProbeAttempt(svc.Name, probeMetricResult(result.State))
	return result
}

// probeMetricResult maps a health state to a metric result label.
func probeMetricResult(state HealthState) string {
	if state == HealthHealthy {
		return "success"
	}
	return "failure"
}

// probeHTTP sends a GET request and checks the status code.
//
// # Limitations
//
//   - GET only; no body inspection
func (h *DefaultHealthChecker) probeHTTP(ctx context.Context, svc ServiceDescriptor, result *ProbeResult) {
	if err := isProbeURLSafe(svc.Probe.Target); err != nil {
		result.State = HealthUnknown
		result.Message = err.Error()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.Probe.Target, nil)
	if err != nil {
		result.State = HealthUnknown
		result.Message = fmt.Sprintf("invalid probe request: %v", err)
		return
	}

	resp, err := h.deps.HTTPClient.Do(req)
	if err != nil {
		result.State = HealthStarting
		result.Message = fmt.Sprintf("connection failed: %v", err)
		return
	}
	defer resp.Body.Close()

	expected := svc.Probe.ExpectedStatus
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if expected != 0 {
		ok = resp.StatusCode == expected
	}
	if ok {
		result.State = HealthHealthy
		result.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		result.State = HealthUnhealthy
		result.Message = fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode)
	}
}

// probeTCP verifies the port accepts connections.
func (h *DefaultHealthChecker) probeTCP(ctx context.Context, svc ServiceDescriptor, result *ProbeResult) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", svc.Probe.Target)
	if err != nil {
		result.State = HealthStarting
		result.Message = fmt.Sprintf("dial failed: %v", err)
		return
	}
	conn.Close()
	result.State = HealthHealthy
	result.Message = "port open"
}

// probeExec runs the probe command inside the service container.
func (h *DefaultHealthChecker) probeExec(ctx context.Context, svc ServiceDescriptor, result *ProbeResult) {
	execResult, err := h.deps.Compose.Exec(ctx, compose.ExecOptions{
		Service: svc.Name,
		Command: svc.Probe.Command,
	})
	if err != nil {
		if errors.Is(err, compose.ErrContainerNotRunning) {
			result.State = HealthStarting
			result.Message = "container not running"
			return
		}
		if errors.Is(err, compose.ErrServiceNotFound) {
			result.State = HealthNotFound
			result.Message = "service not found"
			return
		}
		result.State = HealthStarting
		result.Message = fmt.Sprintf("exec failed: %v", err)
		return
	}
	if execResult.ExitCode == 0 {
		result.State = HealthHealthy
		result.Message = "probe command succeeded"
	} else {
		result.State = HealthUnhealthy
		result.Message = fmt.Sprintf("probe command exited %d: %s",
			execResult.ExitCode, firstLine(execResult.Stderr))
	}
}

// probeContainerRunning checks the container runtime state.
func (h *DefaultHealthChecker) probeContainerRunning(ctx context.Context, svc ServiceDescriptor, result *ProbeResult) {
	running, err := h.deps.Compose.IsServiceRunning(ctx, h.containerNameFor(svc))
	if err != nil {
		result.State = HealthStarting
		result.Message = fmt.Sprintf("state query failed: %v", err)
		return
	}
	if running {
		result.State = HealthHealthy
		result.Message = "container running"
	} else {
		result.State = HealthStarting
		result.Message = "container not running"
	}
}

// WaitForService retries Probe until healthy or out of attempts.
//
// # Description
//
// The total wait is bounded by attempts x interval: the attempt budget
// comes from the descriptor (extended on fresh installs where
// declared), and the pause between attempts is the descriptor's fixed
// Interval. Operators reading a plan can predict the worst-case wait
// for a service as MaxAttempts x Interval plus per-attempt timeouts.
// On exhaustion the final state is TimedOut and the last log lines are
// attached for diagnostics.
//
// # Edge Cases
//
//   - Context cancellation returns immediately with the partial result
//   - A NotFound probe keeps retrying: compose may still be creating
//     the container on the first attempts
//   - A descriptor with an attempt budget below 1 is a configuration
//     error and fails without probing
func (h *DefaultHealthChecker) WaitForService(ctx context.Context, svc ServiceDescriptor, opts WaitOptions) (*ProbeResult, error) {
	start := time.Now()
	budget := svc.EffectiveAttempts(opts.FreshInstall)
	if budget < 1 {
		return &ProbeResult{
			ID:      GenerateID(),
			Service: svc.Name,
			State:   HealthUnknown,
			Message: "attempt budget below 1",
		}, fmt.Errorf("service %s: attempt budget must be at least 1", svc.Name)
	}
	interval := svc.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var last *ProbeResult
	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			last = h.cancelledResult(svc, last, attempt-1, start)
			return last, ctx.Err()
		}

		last = h.Probe(ctx, svc)
		last.Attempts = attempt
		if last.State == HealthHealthy {
			last.Duration = time.Since(start)
			h.deps.Metrics.RecordServiceWait(svc.Name, last.Duration.Seconds())
			h.deps.Logger.Debug("service healthy",
				"service", svc.Name, "attempts", attempt, "took", last.Duration)
			return last, nil
		}

		h.deps.Logger.Debug("probe attempt failed",
			"service", svc.Name, "attempt", attempt, "of", budget,
			"state", string(last.State), "detail", last.Message)

		if attempt < budget {
			h.sleepWithContext(ctx, interval)
		}
	}

	last.State = HealthTimedOut
	last.Duration = time.Since(start)
	last.LogTail = h.fetchLogTail(ctx, svc.Name)
	h.deps.Metrics.RecordServiceWait(svc.Name, last.Duration.Seconds())
	return last, fmt.Errorf("%w: %s after %d attempts", ErrProbeTimeout, svc.Name, budget)
}

// cancelledResult builds the result returned on context cancellation.
func (h *DefaultHealthChecker) cancelledResult(svc ServiceDescriptor, last *ProbeResult, attempts int, start time.Time) *ProbeResult {
	if last == nil {
		last = &ProbeResult{
			ID:      GenerateID(),
			Service: svc.Name,
			State:   HealthUnknown,
			Message: "cancelled before first probe",
		}
	}
	last.Attempts = attempts
	last.Duration = time.Since(start)
	last.LastChecked = time.Now()
	return last
}

// WaitForTier waits for every service in a tier with bounded parallelism.
//
// # Description
//
// Probes run concurrently, at most opts.Parallelism at a time. Probe
// timeouts don't fail the group: every service gets its full budget and
// the tier result classifies the outcome by criticality. Only context
// cancellation aborts early.
func (h *DefaultHealthChecker) WaitForTier(ctx context.Context, tier []ServiceDescriptor, opts WaitOptions) (*TierResult, error) {
	start := time.Now()
	result := &TierResult{}
	if len(tier) > 0 {
		result.Tier = tier[0].Tier
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, svc := range tier {
		svc := svc
		g.Go(func() error {
			probeResult, err := h.WaitForService(gctx, svc, opts)

			mu.Lock()
			defer mu.Unlock()
			result.Results = append(result.Results, probeResult)
			if probeResult.State != HealthHealthy {
				if svc.Criticality == CriticalityEssential {
					result.FailedEssential = append(result.FailedEssential, svc.Name)
				} else {
					result.Degraded = append(result.Degraded, svc.Name)
				}
			}
			// Timeouts are tier outcomes, not group failures
			if err != nil && !errors.Is(err, ErrProbeTimeout) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, nil
}

// IsContainerRunning reports whether the named container is running.
func (h *DefaultHealthChecker) IsContainerRunning(ctx context.Context, containerName string) (bool, error) {
	return h.deps.Compose.IsServiceRunning(ctx, containerName)
}

// fetchLogTail grabs the last log lines of a service for diagnostics.
//
// Failures here are swallowed: the log tail is best-effort context for
// an error that already happened.
func (h *DefaultHealthChecker) fetchLogTail(ctx context.Context, service string) string {
	// Fresh context: the caller's may already be cancelled.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var buf logTailBuffer
	err := h.deps.Compose.Logs(logCtx, compose.LogsOptions{
		Services: []string{service},
		Tail:     h.deps.LogTailLines,
	}, &buf)
	if err != nil {
		return ""
	}
	return buf.String()
}

// logTailBuffer is a bounded buffer for log tails.
type logTailBuffer struct {
	data []byte
}

func (b *logTailBuffer) Write(p []byte) (int, error) {
	const maxTailBytes = 64 * 1024
	if len(b.data) < maxTailBytes {
		b.data = append(b.data, p...)
		if len(b.data) > maxTailBytes {
			b.data = b.data[:maxTailBytes]
		}
	}
	return len(p), nil
}

func (b *logTailBuffer) String() string {
	return string(b.data)
}

// sleepWithContext sleeps for duration or until the context is done.
func (h *DefaultHealthChecker) sleepWithContext(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// =============================================================================
// MOCK IMPLEMENTATION
// =============================================================================

// WaitForServiceCall records the arguments of one WaitForService call.
type WaitForServiceCall struct {
	Service string
	Options WaitOptions
}

// MockHealthChecker is a test double with recorded calls.
//
// # Description
//
// Each method delegates to its Func field when set; otherwise a healthy
// default result is returned. Safe for concurrent use.
type MockHealthChecker struct {
	ProbeFunc              func(context.Context, ServiceDescriptor) *ProbeResult
	WaitForServiceFunc     func(context.Context, ServiceDescriptor, WaitOptions) (*ProbeResult, error)
	WaitForTierFunc        func(context.Context, []ServiceDescriptor, WaitOptions) (*TierResult, error)
	IsContainerRunningFunc func(context.Context, string) (bool, error)

	mu               sync.Mutex
	probeCalls       []string
	waitCalls        []WaitForServiceCall
	tierCalls        [][]string
	containerQueries []string
}

func (m *MockHealthChecker) Probe(ctx context.Context, svc ServiceDescriptor) *ProbeResult {
	m.mu.Lock()
	m.probeCalls = append(m.probeCalls, svc.Name)
	m.mu.Unlock()

	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx, svc)
	}
	return &ProbeResult{ID: GenerateID(), Service: svc.Name, State: HealthHealthy, Attempts: 1}
}

func (m *MockHealthChecker) WaitForService(ctx context.Context, svc ServiceDescriptor, opts WaitOptions) (*ProbeResult, error) {
	m.mu.Lock()
	m.waitCalls = append(m.waitCalls, WaitForServiceCall{Service: svc.Name, Options: opts})
	m.mu.Unlock()

	if m.WaitForServiceFunc != nil {
		return m.WaitForServiceFunc(ctx, svc, opts)
	}
	return &ProbeResult{ID: GenerateID(), Service: svc.Name, State: HealthHealthy, Attempts: 1}, nil
}

func (m *MockHealthChecker) WaitForTier(ctx context.Context, tier []ServiceDescriptor, opts WaitOptions) (*TierResult, error) {
	names := make([]string, len(tier))
	for i, svc := range tier {
		names[i] = svc.Name
	}
	m.mu.Lock()
	m.tierCalls = append(m.tierCalls, names)
	m.mu.Unlock()

	if m.WaitForTierFunc != nil {
		return m.WaitForTierFunc(ctx, tier, opts)
	}

	result := &TierResult{}
	if len(tier) > 0 {
		result.Tier = tier[0].Tier
	}
	for _, svc := range tier {
		result.Results = append(result.Results, &ProbeResult{
			ID: GenerateID(), Service: svc.Name, State: HealthHealthy, Attempts: 1,
		})
	}
	return result, nil
}

func (m *MockHealthChecker) IsContainerRunning(ctx context.Context, containerName string) (bool, error) {
	m.mu.Lock()
	m.containerQueries = append(m.containerQueries, containerName)
	m.mu.Unlock()

	if m.IsContainerRunningFunc != nil {
		return m.IsContainerRunningFunc(ctx, containerName)
	}
	return true, nil
}

// ProbeCalls returns the service names probed, in call order.
func (m *MockHealthChecker) ProbeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.probeCalls))
	copy(out, m.probeCalls)
	return out
}

// WaitCalls returns recorded WaitForService invocations.
func (m *MockHealthChecker) WaitCalls() []WaitForServiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WaitForServiceCall, len(m.waitCalls))
	copy(out, m.waitCalls)
	return out
}

// TierCalls returns the service name sets of each WaitForTier call.
func (m *MockHealthChecker) TierCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.tierCalls))
	copy(out, m.tierCalls)
	return out
}

// Compile-time interface satisfaction checks
var _ HealthChecker = (*DefaultHealthChecker)(nil)
var _ HealthChecker = (*MockHealthChecker)(nil)
