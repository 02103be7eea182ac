// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Manager handles external process operations.
//
// # Description
//
// This interface abstracts all interaction with the operating system's
// process management. Every subprocess the orchestrator spawns (docker,
// docker compose, ip, the env generator) goes through this interface,
// enabling testable code that doesn't require real process execution.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
// Cancellation kills the child process; callers that must not interrupt a
// container transition should use a detached context for the final wait.
type Manager interface {
	// Run executes a command synchronously and returns its combined stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - []byte: Captured stdout
	//   - error: Non-nil if the command fails or is cancelled
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a working directory with extra
	// environment variables, returning stdout, stderr, and the exit code.
	//
	// # Description
	//
	// The primary execution path for compose and network commands, which
	// need separated stderr for error reporting and a working directory
	// relative to the install root.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" means inherit)
	//   - env: Extra environment in KEY=VALUE form, appended to os.Environ()
	//     (nil means inherit unchanged)
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Exit code (-1 if the process did not run)
	//   - error: Non-nil on non-zero exit, spawn failure, or cancellation
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - input: Data written to the process's stdin
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - []byte: Captured stdout
	//   - error: Non-nil if the command or the stdin write fails
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunStreaming executes a command and streams combined output to w.
	//
	// # Description
	//
	// Used for `docker compose logs -f` style commands whose output must
	// reach the user as it is produced. Blocks until the process exits or
	// the context is cancelled.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation (terminates the stream)
	//   - dir: Working directory ("" means inherit)
	//   - w: Destination for stdout and stderr
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - error: Non-nil if the command fails to start or exits non-zero
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultManager implements Manager using os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a production process manager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its stdout.
//
// Failures come back as a *util.CommandError carrying the exit code and
// captured stderr, so callers up the chain can classify invocation
// errors without re-parsing messages.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), util.NewCommandError(
			commandLine(name, args), exitCodeOf(cmd, err), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// RunInDir executes a command with a working directory and extra env.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	err := cmd.Run()
	exitCode := exitCodeOf(cmd, err)

	if err != nil {
		return stdout.String(), stderr.String(), exitCode,
			util.NewCommandError(commandLine(name, args), exitCode, stderr.String(), err)
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// RunWithInput executes a command with data piped to stdin.
func (m *DefaultManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), util.NewCommandError(
			commandLine(name, args), exitCodeOf(cmd, err), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// RunStreaming executes a command and streams combined output to w.
func (m *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		// Cancellation is the normal way to end a follow stream.
		if ctx.Err() != nil {
			return nil
		}
		return util.NewCommandError(commandLine(name, args), exitCodeOf(cmd, err), "", err)
	}
	return nil
}

// commandLine renders the invoked command for error reporting.
func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// exitCodeOf extracts the exit code from a finished command.
//
// Returns 0 on success, the process exit code on non-zero exit, and -1
// when the process never ran (spawn failure, context cancelled first).
func exitCodeOf(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockManager is a configurable mock for unit testing.
//
// # Description
//
// Configure the mock by setting function fields before use. If a function
// field is nil, the corresponding method returns a zero-value success.
// Every call is recorded and can be inspected via Calls().
//
// # Example
//
//	mock := &MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
//	        return "", "no such service", 1, fmt.Errorf("exit status 1")
//	    },
//	}
type MockManager struct {
	RunFunc          func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunInDirFunc     func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	calls []Call
	mu    sync.Mutex
}

// Call records one invocation of a Manager method.
type Call struct {
	// Method is the Manager method name ("Run", "RunInDir", ...).
	Method string

	// Name is the executable that was requested.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory (RunInDir/RunStreaming only).
	Dir string
}

// Run implements Manager.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil, nil
}

// RunInDir implements Manager.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Method: "RunInDir", Name: name, Args: args, Dir: dir})
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

// RunWithInput implements Manager.
func (m *MockManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(Call{Method: "RunWithInput", Name: name, Args: args})
	if m.RunWithInputFunc != nil {
		return m.RunWithInputFunc(ctx, name, input, args...)
	}
	return nil, nil
}

// RunStreaming implements Manager.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(Call{Method: "RunStreaming", Name: name, Args: args, Dir: dir})
	if m.RunStreamingFunc != nil {
		return m.RunStreamingFunc(ctx, dir, w, name, args...)
	}
	return nil
}

// Calls returns a copy of all recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns recorded calls for one executable name.
func (m *MockManager) CallsFor(name string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Compile-time interface compliance checks.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
