package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, CLIExitSuccess},
		{"unclassified", errors.New("something broke"), CLIExitError},
		{"invalid service name", fmt.Errorf("%w: --rm", ErrInvalidServiceName), CLIExitUsage},
		{"unknown service", fmt.Errorf("%w: warp-drive", ErrUnknownService), CLIExitUsage},
		{"config generation", fmt.Errorf("%w: generator exited 1", ErrConfigGeneration), CLIExitConfigGeneration},
		{"probe timeout", fmt.Errorf("%w: postgres after 30 attempts", ErrProbeTimeout), CLIExitDependencyTimeout},
		{"essential failed", fmt.Errorf("%w: postgres in tier 1: %w", ErrEssentialServiceFailed, ErrProbeTimeout), CLIExitDependencyTimeout},
		{"reinstall failed", fmt.Errorf("%w: build exited 1", ErrReinstallFailed), CLIExitReinstallFailed},
		{"backup failed", fmt.Errorf("%w: disk full", ErrBackupRestore), CLIExitReinstallFailed},
		{"command error", &util.CommandError{Command: "docker", ExitCode: 125}, CLIExitRuntimeInvocation},
		{"wrapped command error", fmt.Errorf("compose up: %w", &util.CommandError{Command: "docker", ExitCode: 1}), CLIExitRuntimeInvocation},
		{
			// The chain a failed docker invocation actually produces:
			// executor wrap around the process manager's typed error.
			"compose invocation failure",
			fmt.Errorf("compose command failed: %w",
				util.NewCommandError("docker compose up -d", -1, "", errors.New(`exec: "docker": executable file not found in $PATH`))),
			CLIExitRuntimeInvocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitCodeFor_ReinstallBeatsTimeout(t *testing.T) {
	// A reinstall whose health check timed out carries both sentinels;
	// the reinstall classification must win.
	err := fmt.Errorf("%w: %v (rolled back, backup retained at /backups/app-x)",
		ErrReinstallFailed, fmt.Errorf("%w: app", ErrProbeTimeout))

	if got := ExitCodeFor(err); got != CLIExitReinstallFailed {
		t.Errorf("ExitCodeFor = %d, want %d", got, CLIExitReinstallFailed)
	}
}

func TestColorEnabled(t *testing.T) {
	// JSON and NoColor disable color regardless of the terminal
	if colorEnabled(OutputConfig{JSON: true}) {
		t.Error("color enabled in JSON mode")
	}
	if colorEnabled(OutputConfig{NoColor: true}) {
		t.Error("color enabled with NoColor")
	}

	t.Setenv("NO_COLOR", "1")
	if colorEnabled(OutputConfig{}) {
		t.Error("color enabled despite NO_COLOR")
	}
}

func TestColorForState(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"running", ansiGreen},
		{"healthy", ansiGreen},
		{"degraded", ansiYellow},
		{"partial", ansiYellow},
		{"exited", ansiRed},
		{"unhealthy", ansiRed},
		{"timed_out", ansiRed},
		{"not-created", ansiDim},
	}
	for _, tt := range tests {
		if got := colorForState(tt.state); got != tt.want {
			t.Errorf("colorForState(%q) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestColorize(t *testing.T) {
	if got := colorize("running", "running", false); got != "running" {
		t.Errorf("colorize disabled = %q, want plain text", got)
	}
	got := colorize("running", "running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Errorf("colorize enabled = %q, want wrapped in ANSI codes", got)
	}
}

func TestRenderStackStatus(t *testing.T) {
	healthy := true
	unhealthy := false
	status := &StackStatus{
		State:     "degraded",
		Running:   2,
		Stopped:   0,
		Unhealthy: 1,
		Services: []StackServiceInfo{
			{Name: "vault", Tier: 0, Criticality: CriticalityEssential,
				State: "running", Healthy: &healthy, Ports: []string{"8200:8200/tcp"}},
			{Name: "app", Tier: 4, Criticality: CriticalityEssential,
				State: "running", Healthy: &unhealthy},
			{Name: "stray", Tier: -1, State: "exited"},
		},
	}

	var buf bytes.Buffer
	RenderStackStatus(&buf, status, OutputConfig{NoColor: true})
	out := buf.String()

	if !strings.Contains(out, "Stack: degraded (2 running, 0 stopped, 1 unhealthy)") {
		t.Errorf("missing aggregate line in:\n%s", out)
	}
	for _, want := range []string{"TIER", "SERVICE", "vault", "essential", "8200:8200/tcp", "unhealthy"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Unplanned services render "-" for the tier, no-healthcheck "-"
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "stray") && !strings.HasPrefix(line, "-") {
			t.Errorf("unplanned service line should start with -: %q", line)
		}
	}
	if strings.Contains(out, ansiGreen) {
		t.Error("ANSI codes emitted with NoColor set")
	}
}

func TestSummarizeSession(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	done := ReinstallSession{
		ID:          "abc-123",
		Service:     "app",
		BackupPath:  "/backups/app-2025-01-01_000000",
		StartedAt:   started,
		CompletedAt: started.Add(80 * time.Second),
		Status:      ReinstallSucceeded,
	}

	summary := summarizeSession(done)
	if summary.Session != "abc-123" || summary.Service != "app" {
		t.Errorf("summary = %+v, identity fields wrong", summary)
	}
	if summary.Status != string(ReinstallSucceeded) {
		t.Errorf("status = %q, want %q", summary.Status, ReinstallSucceeded)
	}
	if summary.DurationMs != 80_000 {
		t.Errorf("duration = %d ms, want 80000", summary.DurationMs)
	}

	// An in-flight session has no duration yet
	inflight := ReinstallSession{ID: "x", Service: "app", StartedAt: started, Status: ReinstallRebuilding}
	if got := summarizeSession(inflight).DurationMs; got != 0 {
		t.Errorf("in-flight duration = %d, want 0", got)
	}
}
