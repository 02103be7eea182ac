// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
)

// Exit codes for CLI commands.
//
// Scripts driving stingctl branch on these, so the mapping from error
// class to code is part of the CLI contract.
const (
	CLIExitSuccess = 0 // Stack converged / operation completed
	CLIExitError   = 1 // Unclassified failure
	CLIExitUsage   = 2 // Invalid arguments or unknown service

	CLIExitConfigGeneration  = 10 // Env bundle generation failed, no usable bundles
	CLIExitDependencyTimeout = 20 // An essential service never became healthy
	CLIExitReinstallFailed   = 30 // Reinstall failed (rollback state in the message)
	CLIExitRuntimeInvocation = 40 // docker/compose invocation itself failed
)

// ExitCodeFor maps an error to the CLI exit code contract.
//
// # Description
//
// Classification is by sentinel (errors.Is) and by type (errors.As for
// subprocess failures). Order matters: a reinstall that failed because
// a health probe timed out is still a reinstall failure, so reinstall
// sentinels are checked before the timeout sentinel.
//
// # Inputs
//
//   - err: The error returned by a command runner (nil is success)
//
// # Outputs
//
//   - int: One of the CLIExit* codes
func ExitCodeFor(err error) int {
	if err == nil {
		return CLIExitSuccess
	}

	switch {
	case errors.Is(err, ErrReinstallFailed), errors.Is(err, ErrBackupRestore):
		return CLIExitReinstallFailed
	case errors.Is(err, ErrConfigGeneration):
		return CLIExitConfigGeneration
	case errors.Is(err, ErrEssentialServiceFailed), errors.Is(err, ErrProbeTimeout):
		return CLIExitDependencyTimeout
	case errors.Is(err, ErrInvalidServiceName), errors.Is(err, ErrUnknownService):
		return CLIExitUsage
	}

	var cmdErr *util.CommandError
	if errors.As(err, &cmdErr) {
		return CLIExitRuntimeInvocation
	}

	return CLIExitError
}

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
	Quiet   bool // No output, exit code only
	NoColor bool // Disable ANSI color even on a terminal
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	ExitCode   int         `json:"exit_code"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes structured data as JSON to stdout.
func OutputJSON(data interface{}, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputError writes an error in the appropriate format.
//
// # Inputs
//
//   - jsonMode: If true, output as JSON to stdout.
//   - msg: Human-readable error message.
//   - err: The underlying error.
func OutputError(jsonMode bool, msg string, err error) {
	if jsonMode {
		result := CommandResult{
			APIVersion: "1.0",
			Timestamp:  time.Now(),
			Success:    false,
			ExitCode:   ExitCodeFor(err),
			Error:      fmt.Sprintf("%s: %v", msg, err),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
}

// OutputResult handles all output scenarios with proper formatting.
//
// # Inputs
//
//   - cfg: Output configuration.
//   - cmd: Command name for metadata.
//   - start: Start time for duration calculation.
//   - data: The data to output.
//   - err: Any error that occurred.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputResult(cfg OutputConfig, cmd string, start time.Time, data interface{}, err error) int {
	code := ExitCodeFor(err)

	if cfg.Quiet {
		return code
	}

	if err != nil {
		OutputError(cfg.JSON, "Command failed", err)
		return code
	}

	if cfg.JSON {
		result := CommandResult{
			APIVersion: "1.0",
			Command:    cmd,
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    true,
			ExitCode:   code,
			Data:       data,
		}
		if encErr := OutputJSON(result, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return CLIExitError
		}
	}

	return code
}

// =============================================================================
// Color Handling
// =============================================================================

// ANSI color sequences used for status rendering.
const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
)

// colorEnabled reports whether ANSI color should be emitted.
//
// Color requires stdout to be a terminal and neither the NoColor flag
// nor the NO_COLOR convention to be set.
func colorEnabled(cfg OutputConfig) bool {
	if cfg.NoColor || cfg.JSON {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// colorForState picks a color for a container or health state string.
func colorForState(state string) string {
	switch state {
	case "running", "healthy", "converged":
		return ansiGreen
	case "degraded", "partial", "starting", "restarting":
		return ansiYellow
	case "exited", "dead", "unhealthy", "stopped", "timed_out":
		return ansiRed
	default:
		return ansiDim
	}
}

func colorize(text, state string, enabled bool) string {
	if !enabled {
		return text
	}
	return colorForState(state) + text + ansiReset
}

// =============================================================================
// Status Rendering
// =============================================================================

// RenderStackStatus writes a human-readable status table.
//
// # Description
//
// Services print in tier order with their criticality, container
// state, health, and published ports. The aggregate state line comes
// first, matching what scripts grep for.
//
// # Examples
//
//	Stack: running (19 running, 0 stopped, 0 unhealthy)
//
//	TIER  SERVICE         CRITICALITY  STATE      HEALTH    PORTS
//	0     vault           essential    running    healthy   8200:8200/tcp
//	1     postgres        essential    running    healthy   5432:5432/tcp
func RenderStackStatus(w io.Writer, status *StackStatus, cfg OutputConfig) {
	color := colorEnabled(cfg)

	fmt.Fprintf(w, "Stack: %s (%d running, %d stopped, %d unhealthy)\n\n",
		colorize(status.State, status.State, color),
		status.Running, status.Stopped, status.Unhealthy)

	fmt.Fprintf(w, "%-5s %-16s %-12s %-10s %-9s %s\n",
		"TIER", "SERVICE", "CRITICALITY", "STATE", "HEALTH", "PORTS")

	for _, svc := range status.Services {
		tier := fmt.Sprintf("%d", svc.Tier)
		if svc.Tier < 0 {
			tier = "-"
		}

		health := "-"
		if svc.Healthy != nil {
			if *svc.Healthy {
				health = "healthy"
			} else {
				health = "unhealthy"
			}
		}

		ports := ""
		for i, p := range svc.Ports {
			if i > 0 {
				ports += " "
			}
			ports += p
		}

		fmt.Fprintf(w, "%-5s %-16s %-12s %s %s %s\n",
			tier, svc.Name, string(svc.Criticality),
			colorize(fmt.Sprintf("%-10s", svc.State), svc.State, color),
			colorize(fmt.Sprintf("%-9s", health), health, color),
			ports)
	}
}

// ReinstallSummary is the JSON shape for reinstall output.
type ReinstallSummary struct {
	Session    string `json:"session"`
	Service    string `json:"service"`
	Status     string `json:"status"`
	BackupPath string `json:"backup_path,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// summarizeSession converts a session for output.
func summarizeSession(s ReinstallSession) ReinstallSummary {
	var duration int64
	if !s.CompletedAt.IsZero() {
		duration = s.CompletedAt.Sub(s.StartedAt).Milliseconds()
	}
	return ReinstallSummary{
		Session:    s.ID,
		Service:    s.Service,
		Status:     string(s.Status),
		BackupPath: s.BackupPath,
		DurationMs: duration,
	}
}
