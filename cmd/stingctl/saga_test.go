package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// stepRecorder tracks execution and compensation order across steps.
type stepRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *stepRecorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *stepRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func recordedStep(r *stepRecorder, name string, execErr, compErr error) SagaStep {
	return SagaStep{
		Name: name,
		Execute: func(ctx context.Context) error {
			r.record("exec:" + name)
			return execErr
		},
		Compensate: func(ctx context.Context) error {
			r.record("comp:" + name)
			return compErr
		},
	}
}

func TestSaga_Execute_AllStepsInOrder(t *testing.T) {
	recorder := &stepRecorder{}
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(recordedStep(recorder, "first", nil, nil))
	saga.AddStep(recordedStep(recorder, "second", nil, nil))
	saga.AddStep(recordedStep(recorder, "third", nil, nil))

	if err := saga.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	want := []string{"exec:first", "exec:second", "exec:third"}
	got := recorder.Events()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(saga.CompletedSteps()) != 3 {
		t.Errorf("CompletedSteps = %v, want 3 entries", saga.CompletedSteps())
	}
	if saga.LastError() != nil {
		t.Errorf("LastError = %v, want nil", saga.LastError())
	}
}

func TestSaga_Execute_FailureCompensatesInReverse(t *testing.T) {
	recorder := &stepRecorder{}
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(recordedStep(recorder, "first", nil, nil))
	saga.AddStep(recordedStep(recorder, "second", nil, nil))
	saga.AddStep(recordedStep(recorder, "third", errors.New("boom"), nil))

	err := saga.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}
	if !strings.Contains(err.Error(), `step "third"`) {
		t.Errorf("error %q should name the failed step", err.Error())
	}

	// The failed step itself is never compensated; completed steps roll
	// back in reverse order.
	want := []string{"exec:first", "exec:second", "exec:third", "comp:second", "comp:first"}
	got := recorder.Events()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(saga.CompensationErrors()) != 0 {
		t.Errorf("CompensationErrors = %v, want none", saga.CompensationErrors())
	}
}

func TestSaga_Execute_NilCompensateSkipped(t *testing.T) {
	recorder := &stepRecorder{}
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(SagaStep{
		Name: "no-cleanup",
		Execute: func(ctx context.Context) error {
			recorder.record("exec:no-cleanup")
			return nil
		},
	})
	saga.AddStep(recordedStep(recorder, "failing", errors.New("boom"), nil))

	if err := saga.Execute(context.Background()); err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}

	for _, event := range recorder.Events() {
		if event == "comp:no-cleanup" {
			t.Error("step without Compensate was compensated")
		}
	}
}

func TestSaga_Execute_CompensationErrorsRecorded(t *testing.T) {
	recorder := &stepRecorder{}
	compErr := errors.New("restore failed")
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(recordedStep(recorder, "first", nil, compErr))
	saga.AddStep(recordedStep(recorder, "second", nil, nil))
	saga.AddStep(recordedStep(recorder, "third", errors.New("boom"), nil))

	if err := saga.Execute(context.Background()); err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}

	// A failed compensation does not stop the remaining ones.
	got := recorder.Events()
	if got[len(got)-1] != "comp:first" {
		t.Errorf("events = %v, compensation should continue past failures", got)
	}

	compErrors := saga.CompensationErrors()
	if len(compErrors) != 1 {
		t.Fatalf("CompensationErrors = %v, want 1", compErrors)
	}
	if compErrors[0].StepName != "first" || !errors.Is(compErrors[0].Error, compErr) {
		t.Errorf("CompensationErrors[0] = %+v, want first/restore failed", compErrors[0])
	}
}

func TestSaga_Execute_CompensateOnFailDisabled(t *testing.T) {
	recorder := &stepRecorder{}
	config := DefaultSagaConfig()
	config.CompensateOnFail = false
	saga := NewSaga(config)
	saga.AddStep(recordedStep(recorder, "first", nil, nil))
	saga.AddStep(recordedStep(recorder, "second", errors.New("boom"), nil))

	if err := saga.Execute(context.Background()); err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}

	for _, event := range recorder.Events() {
		if strings.HasPrefix(event, "comp:") {
			t.Errorf("compensation ran despite CompensateOnFail=false: %s", event)
		}
	}
}

func TestSaga_Execute_StepTimeout(t *testing.T) {
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(SagaStep{
		Name:    "hangs",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context) error {
			// Ignores its context entirely
			time.Sleep(500 * time.Millisecond)
			return nil
		},
	})

	start := time.Now()
	err := saga.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute() succeeded, want timeout")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q should report the timeout", err.Error())
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Error("timeout was not enforced on a step that ignores its context")
	}
}

func TestSaga_Execute_ContextCancelledBetweenSteps(t *testing.T) {
	recorder := &stepRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(SagaStep{
		Name: "first",
		Execute: func(stepCtx context.Context) error {
			recorder.record("exec:first")
			cancel()
			return nil
		},
		Compensate: func(stepCtx context.Context) error {
			recorder.record("comp:first")
			return nil
		},
	})
	saga.AddStep(recordedStep(recorder, "second", nil, nil))

	err := saga.Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	// Compensation runs on a detached context even after cancellation.
	want := []string{"exec:first", "comp:first"}
	got := recorder.Events()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSaga_Execute_Callbacks(t *testing.T) {
	var started, completed, failed, compensated []string

	config := DefaultSagaConfig()
	config.OnStepStart = func(step SagaStep) { started = append(started, step.Name) }
	config.OnStepComplete = func(step SagaStep, d time.Duration) { completed = append(completed, step.Name) }
	config.OnStepFail = func(step SagaStep, err error) { failed = append(failed, step.Name) }
	config.OnCompensate = func(step SagaStep, err error) { compensated = append(compensated, step.Name) }

	recorder := &stepRecorder{}
	saga := NewSaga(config)
	saga.AddStep(recordedStep(recorder, "ok", nil, nil))
	saga.AddStep(recordedStep(recorder, "bad", errors.New("boom"), nil))

	if err := saga.Execute(context.Background()); err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}

	if strings.Join(started, ",") != "ok,bad" {
		t.Errorf("OnStepStart calls = %v, want [ok bad]", started)
	}
	if strings.Join(completed, ",") != "ok" {
		t.Errorf("OnStepComplete calls = %v, want [ok]", completed)
	}
	if strings.Join(failed, ",") != "bad" {
		t.Errorf("OnStepFail calls = %v, want [bad]", failed)
	}
	if strings.Join(compensated, ",") != "ok" {
		t.Errorf("OnCompensate calls = %v, want [ok]", compensated)
	}
}

func TestSaga_Reset(t *testing.T) {
	recorder := &stepRecorder{}
	saga := NewSaga(DefaultSagaConfig())
	saga.AddStep(recordedStep(recorder, "first", errors.New("boom"), nil))

	if err := saga.Execute(context.Background()); err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}
	if saga.LastError() == nil {
		t.Error("LastError should be set after a failure")
	}

	saga.Reset()
	if saga.StepCount() != 0 {
		t.Errorf("StepCount after Reset = %d, want 0", saga.StepCount())
	}
	if saga.LastError() != nil {
		t.Errorf("LastError after Reset = %v, want nil", saga.LastError())
	}
	if err := saga.Execute(context.Background()); err != nil {
		t.Errorf("Execute() of empty saga failed: %v", err)
	}
}
