package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/compose"
)

func newTestHealthChecker(t *testing.T, mock *compose.MockComposeExecutor) *DefaultHealthChecker {
	t.Helper()
	if mock == nil {
		mock = &compose.MockComposeExecutor{}
	}
	return NewDefaultHealthChecker(HealthCheckerDeps{
		Compose:        mock,
		AttemptTimeout: 2 * time.Second,
	})
}

func fastWaitOptions() WaitOptions {
	return DefaultWaitOptions()
}

// fastService returns a descriptor with millisecond retry intervals so
// exhaustion tests finish quickly.
func fastService(kind ProbeKind, target string, attempts int) ServiceDescriptor {
	return ServiceDescriptor{
		Name:        "svc",
		Tier:        0,
		Criticality: CriticalityEssential,
		Probe:       ProbeSpec{Kind: kind, Target: target},
		MaxAttempts: attempts,
		Interval:    time.Millisecond,
	}
}

// =============================================================================
// Probe
// =============================================================================

func TestDefaultHealthChecker_Probe_HTTP(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected int
		want     HealthState
	}{
		{"2xx healthy", http.StatusOK, 0, HealthHealthy},
		{"204 healthy", http.StatusNoContent, 0, HealthHealthy},
		{"500 unhealthy", http.StatusInternalServerError, 0, HealthUnhealthy},
		{"404 unhealthy", http.StatusNotFound, 0, HealthUnhealthy},
		{"explicit status match", http.StatusUnauthorized, 401, HealthHealthy},
		{"explicit status mismatch", http.StatusOK, 401, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			checker := newTestHealthChecker(t, nil)
			svc := fastService(ProbeHTTP, srv.URL+"/api/health", 1)
			svc.Probe.ExpectedStatus = tt.expected

			result := checker.Probe(context.Background(), svc)
			if result.State != tt.want {
				t.Errorf("state = %s, want %s (%s)", result.State, tt.want, result.Message)
			}
		})
	}
}

func TestDefaultHealthChecker_Probe_HTTPConnectionrefused(t *testing.T) {
	checker := newTestHealthChecker(t, nil)
	// A listener that is closed immediately: the port refuses connections
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	result := checker.Probe(context.Background(), fastService(ProbeHTTP, "http://"+addr+"/health", 1))
	if result.State != HealthStarting {
		t.Errorf("state = %s, want %s for a refused connection", result.State, HealthStarting)
	}
}

func TestDefaultHealthChecker_Probe_HTTPBlockedURL(t *testing.T) {
	checker := newTestHealthChecker(t, nil)

	result := checker.Probe(context.Background(),
		fastService(ProbeHTTP, "http://169.254.169.254/latest/meta-data", 1))
	if result.State != HealthUnknown {
		t.Errorf("state = %s, want %s for a blocked URL", result.State, HealthUnknown)
	}
	if !strings.Contains(result.Message, "blocked") {
		t.Errorf("message %q should report the block", result.Message)
	}
}

func TestDefaultHealthChecker_Probe_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := newTestHealthChecker(t, nil)
	result := checker.Probe(context.Background(), fastService(ProbeTCP, ln.Addr().String(), 1))
	if result.State != HealthHealthy {
		t.Errorf("state = %s, want %s (%s)", result.State, HealthHealthy, result.Message)
	}
}

func TestDefaultHealthChecker_Probe_TCPClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := newTestHealthChecker(t, nil)
	result := checker.Probe(context.Background(), fastService(ProbeTCP, addr, 1))
	if result.State != HealthStarting {
		t.Errorf("state = %s, want %s for a closed port", result.State, HealthStarting)
	}
}

func TestDefaultHealthChecker_Probe_Exec(t *testing.T) {
	tests := []struct {
		name     string
		execFunc func(context.Context, compose.ExecOptions) (*compose.ExecResult, error)
		want     HealthState
	}{
		{
			"exit zero healthy",
			func(ctx context.Context, opts compose.ExecOptions) (*compose.ExecResult, error) {
				return &compose.ExecResult{ExitCode: 0}, nil
			},
			HealthHealthy,
		},
		{
			"exit nonzero unhealthy",
			func(ctx context.Context, opts compose.ExecOptions) (*compose.ExecResult, error) {
				return &compose.ExecResult{ExitCode: 1, Stderr: "pg_isready: no response"}, nil
			},
			HealthUnhealthy,
		},
		{
			"container not running keeps starting",
			func(ctx context.Context, opts compose.ExecOptions) (*compose.ExecResult, error) {
				return nil, compose.ErrContainerNotRunning
			},
			HealthStarting,
		},
		{
			"service not found",
			func(ctx context.Context, opts compose.ExecOptions) (*compose.ExecResult, error) {
				return nil, compose.ErrServiceNotFound
			},
			HealthNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newTestHealthChecker(t, &compose.MockComposeExecutor{ExecFunc: tt.execFunc})
			svc := fastService(ProbeExec, "", 1)
			svc.Probe.Command = []string{"pg_isready"}

			result := checker.Probe(context.Background(), svc)
			if result.State != tt.want {
				t.Errorf("state = %s, want %s (%s)", result.State, tt.want, result.Message)
			}
		})
	}
}

func TestDefaultHealthChecker_Probe_ContainerRunning(t *testing.T) {
	running := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			return name == "sting-svc", nil
		},
	}
	checker := newTestHealthChecker(t, running)

	result := checker.Probe(context.Background(), fastService(ProbeContainerRunning, "", 1))
	if result.State != HealthHealthy {
		t.Errorf("state = %s, want %s (%s)", result.State, HealthHealthy, result.Message)
	}

	svc := fastService(ProbeContainerRunning, "", 1)
	svc.ContainerName = "elsewhere"
	result = checker.Probe(context.Background(), svc)
	if result.State != HealthStarting {
		t.Errorf("state = %s, want %s for a stopped container", result.State, HealthStarting)
	}
}

func TestDefaultHealthChecker_Probe_UnknownKind(t *testing.T) {
	checker := newTestHealthChecker(t, nil)
	result := checker.Probe(context.Background(), fastService(ProbeKind("smoke-signal"), "", 1))
	if result.State != HealthUnknown {
		t.Errorf("state = %s, want %s", result.State, HealthUnknown)
	}
}

// =============================================================================
// WaitForService
// =============================================================================

func TestDefaultHealthChecker_WaitForService_EventualSuccess(t *testing.T) {
	var attempts atomic.Int32
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			return attempts.Add(1) >= 3, nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	result, err := checker.WaitForService(context.Background(),
		fastService(ProbeContainerRunning, "", 10), fastWaitOptions())
	if err != nil {
		t.Fatalf("WaitForService failed: %v", err)
	}
	if result.State != HealthHealthy {
		t.Errorf("state = %s, want %s", result.State, HealthHealthy)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDefaultHealthChecker_WaitForService_BudgetExhausted(t *testing.T) {
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			return false, nil
		},
		LogsFunc: func(ctx context.Context, opts compose.LogsOptions, w io.Writer) error {
			fmt.Fprintln(w, "fatal: could not bind to port 5432")
			return nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	result, err := checker.WaitForService(context.Background(),
		fastService(ProbeContainerRunning, "", 3), fastWaitOptions())
	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("error = %v, want ErrProbeTimeout", err)
	}
	if result.State != HealthTimedOut {
		t.Errorf("state = %s, want %s", result.State, HealthTimedOut)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want the full budget of 3", result.Attempts)
	}
	if !strings.Contains(result.LogTail, "could not bind") {
		t.Errorf("LogTail %q should carry the container's last lines", result.LogTail)
	}
}

func TestDefaultHealthChecker_WaitForService_FreshInstallBudget(t *testing.T) {
	var attempts atomic.Int32
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			attempts.Add(1)
			return false, nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	svc := fastService(ProbeContainerRunning, "", 2)
	svc.FreshInstallAttempts = 5

	opts := fastWaitOptions()
	opts.FreshInstall = true
	_, err := checker.WaitForService(context.Background(), svc, opts)
	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("error = %v, want ErrProbeTimeout", err)
	}
	if got := attempts.Load(); got != 5 {
		t.Errorf("probe ran %d times, want the extended budget of 5", got)
	}
}

func TestDefaultHealthChecker_WaitForService_ContextCancelled(t *testing.T) {
	checker := newTestHealthChecker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := checker.WaitForService(ctx, fastService(ProbeContainerRunning, "", 5), fastWaitOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("result must be non-nil on cancellation")
	}
}

// =============================================================================
// WaitForTier
// =============================================================================

func tierOf(descs ...ServiceDescriptor) []ServiceDescriptor {
	return descs
}

func TestDefaultHealthChecker_WaitForTier_Classification(t *testing.T) {
	// postgres (essential) never comes up, frontend (optional) neither,
	// vault converges immediately.
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			return name == "sting-vault", nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	vault := fastService(ProbeContainerRunning, "", 2)
	vault.Name = "vault"
	postgres := fastService(ProbeContainerRunning, "", 2)
	postgres.Name = "postgres"
	frontend := fastService(ProbeContainerRunning, "", 2)
	frontend.Name = "frontend"
	frontend.Criticality = CriticalityOptional

	result, err := checker.WaitForTier(context.Background(),
		tierOf(vault, postgres, frontend), fastWaitOptions())
	if err != nil {
		t.Fatalf("WaitForTier failed: %v", err)
	}

	if result.Converged() {
		t.Error("tier converged despite a failed essential service")
	}
	if len(result.FailedEssential) != 1 || result.FailedEssential[0] != "postgres" {
		t.Errorf("FailedEssential = %v, want [postgres]", result.FailedEssential)
	}
	if len(result.Degraded) != 1 || result.Degraded[0] != "frontend" {
		t.Errorf("Degraded = %v, want [frontend]", result.Degraded)
	}
	if len(result.Results) != 3 {
		t.Errorf("got %d results, want 3: every service gets its full budget", len(result.Results))
	}
}

func TestDefaultHealthChecker_WaitForTier_AllHealthy(t *testing.T) {
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(ctx context.Context, name string) (bool, error) {
			return true, nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	a := fastService(ProbeContainerRunning, "", 2)
	a.Name = "a"
	b := fastService(ProbeContainerRunning, "", 2)
	b.Name = "b"

	result, err := checker.WaitForTier(context.Background(), tierOf(a, b), fastWaitOptions())
	if err != nil {
		t.Fatalf("WaitForTier failed: %v", err)
	}
	if !result.Converged() {
		t.Errorf("tier did not converge: %+v", result)
	}
}

// =============================================================================
// SSRF Guard and Helpers
// =============================================================================

func TestIsProbeURLSafe(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"localhost", "http://localhost:5000/api/health", false},
		{"loopback ip", "http://127.0.0.1:8200/v1/sys/health", false},
		{"rfc1918", "http://192.168.1.10:3000/", false},
		{"docker hostname", "http://sting-app:5000/health", false},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data", true},
		{"link local", "http://169.254.10.20/", true},
		{"no host", "http:///health", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := isProbeURLSafe(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("isProbeURLSafe(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveAttempts(t *testing.T) {
	svc := ServiceDescriptor{MaxAttempts: 30, FreshInstallAttempts: 120}
	if got := svc.EffectiveAttempts(false); got != 30 {
		t.Errorf("EffectiveAttempts(false) = %d, want 30", got)
	}
	if got := svc.EffectiveAttempts(true); got != 120 {
		t.Errorf("EffectiveAttempts(true) = %d, want 120", got)
	}

	// No declared extension: the normal budget applies either way
	plain := ServiceDescriptor{MaxAttempts: 30}
	if got := plain.EffectiveAttempts(true); got != 30 {
		t.Errorf("EffectiveAttempts(true) without extension = %d, want 30", got)
	}
}

func TestDefaultHealthChecker_WaitForService_FixedIntervalBound(t *testing.T) {
	// A service that never converges must exhaust its budget in about
	// MaxAttempts x Interval: probes pace at the descriptor's fixed
	// interval, never a growing one.
	mock := &compose.MockComposeExecutor{}
	checker := newTestHealthChecker(t, mock)

	svc := fastService(ProbeContainerRunning, "", 5)
	svc.Interval = 50 * time.Millisecond

	start := time.Now()
	result, err := checker.WaitForService(context.Background(), svc, fastWaitOptions())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("WaitForService error = %v, want ErrProbeTimeout", err)
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}
	// 4 pauses of 50ms between 5 near-instant probes
	if elapsed < 200*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 200ms of fixed-interval pacing", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("elapsed = %v, exceeds the attempts x interval bound", elapsed)
	}
}

func TestDefaultHealthChecker_WaitForService_ZeroBudgetRejected(t *testing.T) {
	mock := &compose.MockComposeExecutor{
		IsServiceRunningFunc: func(context.Context, string) (bool, error) {
			t.Error("probe should not run with a zero attempt budget")
			return false, nil
		},
	}
	checker := newTestHealthChecker(t, mock)

	svc := fastService(ProbeContainerRunning, "", 0)
	result, err := checker.WaitForService(context.Background(), svc, fastWaitOptions())
	if err == nil {
		t.Fatal("WaitForService with zero attempts should fail")
	}
	if !strings.Contains(err.Error(), "attempt budget") {
		t.Errorf("error = %v, want an attempt budget message", err)
	}
	if result == nil {
		t.Fatal("result should be non-nil")
	}
	if result.State != HealthUnknown {
		t.Errorf("State = %q, want %q", result.State, HealthUnknown)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo\nthree"); got != "one" {
		t.Errorf("firstLine = %q, want %q", got, "one")
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q, want %q", got, "single")
	}
}
