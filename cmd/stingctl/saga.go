package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
	"github.com/AlphaBytez/STING-CE-sub009/pkg/logging"
)

// SagaExecutor defines the interface for saga-based transaction execution.
//
// # Description
//
// SagaExecutor manages multi-step operations that require automatic rollback
// on failure. When any step fails, previously completed steps are compensated
// (rolled back) in reverse order. The reinstall manager uses it for its
// backup, rebuild, health-check sequence.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine.
// Concurrent execution of the same saga is not supported.
type SagaExecutor interface {
	// AddStep adds a step to the saga.
	AddStep(step SagaStep)

	// Execute runs all steps. If any fails, compensates completed steps.
	Execute(ctx context.Context) error

	// Reset clears all steps and state for reuse.
	Reset()

	// CompletedSteps returns names of successfully completed steps.
	CompletedSteps() []string

	// CompensationErrors returns failures recorded during rollback.
	CompensationErrors() []CompensationError

	// LastError returns the error that caused the saga to fail.
	LastError() error
}

// SagaStep represents one step in a saga with its rollback action.
//
// # Description
//
// Each step consists of an Execute function and an optional Compensate
// function. The Execute function performs the forward action; the
// Compensate function undoes it if a later step fails.
//
// # Example
//
//	step := SagaStep{
//	    Name: "remove-image",
//	    Execute: func(ctx context.Context) error {
//	        return executor.RemoveImage(ctx, "sting-app")
//	    },
//	    Compensate: func(ctx context.Context) error {
//	        return backups.Restore(backupPath, "app")
//	    },
//	}
//
// # Limitations
//
//   - Compensate should be idempotent (safe to call multiple times)
//   - Compensate should not fail on "already doesn't exist" scenarios
type SagaStep struct {
	// Name identifies the step for logging and debugging.
	Name string

	// Execute performs the forward action.
	Execute func(ctx context.Context) error

	// Compensate undoes the Execute action. May be nil if no cleanup needed.
	Compensate func(ctx context.Context) error

	// Timeout overrides the default step timeout. Zero uses saga default.
	Timeout time.Duration
}

// SagaConfig configures saga behavior.
type SagaConfig struct {
	// StepTimeout is the default timeout for each step.
	// Default: 60 seconds
	StepTimeout time.Duration

	// CompensationTimeout is the timeout for each compensation.
	// Default: 30 seconds
	CompensationTimeout time.Duration

	// CompensateOnFail determines whether to run compensation on failure.
	// Default: true
	CompensateOnFail bool

	// Logger receives step execution and compensation events.
	// Default: logging.Default()
	Logger *logging.Logger

	// OnStepStart is called before each step executes.
	OnStepStart func(step SagaStep)

	// OnStepComplete is called after each step completes successfully.
	OnStepComplete func(step SagaStep, duration time.Duration)

	// OnStepFail is called when a step fails.
	OnStepFail func(step SagaStep, err error)

	// OnCompensate is called when compensation runs, with the
	// compensation error (nil on success).
	OnCompensate func(step SagaStep, err error)
}

// DefaultSagaConfig returns sensible defaults.
func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		StepTimeout:         util.DefaultSagaStepTimeout,
		CompensationTimeout: util.DefaultCompensationTimeout,
		CompensateOnFail:    true,
		Logger:              logging.Default(),
	}
}

// CompensationError records a failure during compensation.
type CompensationError struct {
	// StepName is the step being compensated.
	StepName string

	// Error is what went wrong during compensation.
	Error error
}

// Saga implements SagaExecutor for multi-step operations with rollback.
//
// # Description
//
// Saga is the core implementation of the Saga pattern for managing
// multi-step operations that must be atomic. If any step fails, all
// previously completed steps are compensated in reverse order.
//
// # Use Cases
//
//   - Reinstalling a service (backup, remove container, remove image,
//     rebuild, start, health check)
//   - Stack teardown with cleanup verification
//
// # How It Works
//
//  1. Steps are added via AddStep in order of execution
//  2. Execute runs each step sequentially
//  3. On failure, completed steps are compensated in reverse order
//  4. Compensation errors are recorded but don't stop other compensations
//
// # Thread Safety
//
// Saga is NOT safe for concurrent use. Each saga instance should be
// used from a single goroutine.
//
// # Limitations
//
//   - Steps execute sequentially (no parallel execution)
//   - Compensation may fail, leaving partial state
//   - No persistence - saga state is lost on process crash
//
// # Assumptions
//
//   - Compensate functions are idempotent
//   - Context cancellation should be respected
//   - Steps have reasonable timeouts
//
// # Example
//
//	saga := NewSaga(DefaultSagaConfig())
//
//	saga.AddStep(SagaStep{
//	    Name: "backup",
//	    Execute: func(ctx context.Context) error {
//	        var err error
//	        backupPath, err = backups.CreateBackup("app")
//	        return err
//	    },
//	})
//
//	saga.AddStep(SagaStep{
//	    Name: "rebuild",
//	    Execute: func(ctx context.Context) error {
//	        _, err := executor.Build(ctx, compose.BuildOptions{
//	            Services: []string{"app"}, NoCache: true,
//	        })
//	        return err
//	    },
//	    Compensate: func(ctx context.Context) error {
//	        return backups.Restore(backupPath, "app")
//	    },
//	})
//
//	if err := saga.Execute(ctx); err != nil {
//	    // All completed steps have been rolled back
//	    logger.Error("reinstall failed", "error", err)
//	}
type Saga struct {
	config             SagaConfig
	steps              []SagaStep
	completed          []SagaStep
	compensationErrors []CompensationError
	lastError          error
	mu                 sync.Mutex
}

// NewSaga creates a new saga with the given configuration.
func NewSaga(config SagaConfig) *Saga {
	config.StepTimeout = util.EnforceDefaultTimeout(config.StepTimeout, util.DefaultSagaStepTimeout)
	config.CompensationTimeout = util.EnforceDefaultTimeout(config.CompensationTimeout, util.DefaultCompensationTimeout)
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	return &Saga{
		config:    config,
		steps:     make([]SagaStep, 0),
		completed: make([]SagaStep, 0),
	}
}

// AddStep adds a step to the saga.
//
// Steps are executed in the order they are added. Each step should
// have a corresponding Compensate function that can undo its effects.
func (s *Saga) AddStep(step SagaStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Execute runs all steps. If any fails, compensates completed steps.
//
// # Description
//
// Executes steps sequentially. Each step runs with a timeout derived
// from its Timeout field or the saga's StepTimeout default.
//
// If a step fails:
//  1. The error is recorded
//  2. All completed steps are compensated in reverse order
//  3. The original error is returned
//
// # Outputs
//
//   - error: nil if all steps succeed, otherwise the first failure
func (s *Saga) Execute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = make([]SagaStep, 0, len(s.steps))
	s.compensationErrors = nil
	s.lastError = nil

	for _, step := range s.steps {
		// Check context before each step
		if ctx.Err() != nil {
			s.lastError = fmt.Errorf("saga cancelled: %w", ctx.Err())
			s.compensate(ctx)
			return s.lastError
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = s.config.StepTimeout
		}

		if err := s.executeStep(ctx, step, timeout); err != nil {
			s.lastError = fmt.Errorf("saga failed at step %q: %w", step.Name, err)

			if s.config.OnStepFail != nil {
				s.config.OnStepFail(step, err)
			}

			if s.config.CompensateOnFail {
				s.compensate(ctx)
			}

			return s.lastError
		}

		s.completed = append(s.completed, step)
	}

	return nil
}

// executeStep runs a single step with timeout.
func (s *Saga) executeStep(ctx context.Context, step SagaStep, timeout time.Duration) error {
	if s.config.OnStepStart != nil {
		s.config.OnStepStart(step)
	}

	s.config.Logger.Info("executing saga step", "step", step.Name)
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Execute in goroutine to enforce the timeout even on a step that
	// ignores its context
	done := make(chan error, 1)
	go func() {
		done <- step.Execute(stepCtx)
	}()

	select {
	case err := <-done:
		duration := time.Since(start)
		if err != nil {
			s.config.Logger.Warn("saga step failed",
				"step", step.Name, "took", duration, "error", err)
			return err
		}
		s.config.Logger.Info("saga step completed", "step", step.Name, "took", duration)
		if s.config.OnStepComplete != nil {
			s.config.OnStepComplete(step, duration)
		}
		return nil

	case <-stepCtx.Done():
		return fmt.Errorf("step timed out after %v", timeout)
	}
}

// compensate runs compensation for completed steps in reverse order.
func (s *Saga) compensate(ctx context.Context) {
	if len(s.completed) == 0 {
		return
	}

	s.config.Logger.Warn("compensating completed saga steps", "count", len(s.completed))

	// Compensation runs on a detached context: cleanup must complete
	// even when the parent was cancelled
	compensateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		s.config.CompensationTimeout*time.Duration(len(s.completed)))
	defer cancel()

	for i := len(s.completed) - 1; i >= 0; i-- {
		step := s.completed[i]
		if step.Compensate == nil {
			continue
		}

		stepCtx, stepCancel := context.WithTimeout(compensateCtx, s.config.CompensationTimeout)
		err := step.Compensate(stepCtx)
		stepCancel()

		if err != nil {
			s.config.Logger.Error("compensation failed", "step", step.Name, "error", err)
			s.compensationErrors = append(s.compensationErrors, CompensationError{
				StepName: step.Name,
				Error:    err,
			})
		} else {
			s.config.Logger.Info("compensated saga step", "step", step.Name)
		}
		if s.config.OnCompensate != nil {
			s.config.OnCompensate(step, err)
		}
	}
}

// Reset clears all steps and state for reuse.
func (s *Saga) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = make([]SagaStep, 0)
	s.completed = make([]SagaStep, 0)
	s.compensationErrors = nil
	s.lastError = nil
}

// CompletedSteps returns names of successfully completed steps.
func (s *Saga) CompletedSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.completed))
	for i, step := range s.completed {
		names[i] = step.Name
	}
	return names
}

// CompensationErrors returns failures recorded during rollback.
func (s *Saga) CompensationErrors() []CompensationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CompensationError, len(s.compensationErrors))
	copy(out, s.compensationErrors)
	return out
}

// LastError returns the error that caused the saga to fail.
//
// Returns nil if the saga has not been executed or if it succeeded.
func (s *Saga) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// StepCount returns the total number of steps in the saga.
func (s *Saga) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Compile-time interface satisfaction check
var _ SagaExecutor = (*Saga)(nil)
