// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Tests for LifecycleMetrics implementations.

These tests validate:

  - NoOpLifecycleMetrics: In-memory counting without export
  - PrometheusLifecycleMetrics: Collector construction and recording
  - Factory function selection
  - Thread safety of concurrent recording

# Test Strategy

Prometheus recorders are exercised without calling Register() so tests
don't pollute the default registry across test runs.
*/
package diagnostics

import (
	"sync"
	"testing"
)

// -----------------------------------------------------------------------------
// NoOpLifecycleMetrics Tests
// -----------------------------------------------------------------------------

// TestNoOpLifecycleMetrics_RecordProbeAttempt tests probe counting.
//
// # Test Steps
//
//  1. Record successful and failed probes
//  2. Verify attempt total covers all results
//  3. Verify failure total excludes successes
func TestNoOpLifecycleMetrics_RecordProbeAttempt(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	metrics.RecordProbeAttempt("postgres", "success")
	metrics.RecordProbeAttempt("postgres", "failure")
	metrics.RecordProbeAttempt("kratos", "timeout")
	metrics.RecordProbeAttempt("redis", "success")

	if got := metrics.GetProbeAttempts(); got != 4 {
		t.Errorf("GetProbeAttempts() = %d, want 4", got)
	}
	if got := metrics.GetProbeFailures(); got != 2 {
		t.Errorf("GetProbeFailures() = %d, want 2", got)
	}
}

// TestNoOpLifecycleMetrics_RecordReinstall tests reinstall counting.
func TestNoOpLifecycleMetrics_RecordReinstall(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	metrics.RecordReinstall("succeeded")
	metrics.RecordReinstall("rolled_back")

	if got := metrics.GetReinstalls(); got != 2 {
		t.Errorf("GetReinstalls() = %d, want 2", got)
	}
}

// TestNoOpLifecycleMetrics_RecordNetworkRepair tests fault counting.
func TestNoOpLifecycleMetrics_RecordNetworkRepair(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	metrics.RecordNetworkRepair("missing-gateway-ip")

	if got := metrics.GetNetworkRepairs(); got != 1 {
		t.Errorf("GetNetworkRepairs() = %d, want 1", got)
	}
}

// TestNoOpLifecycleMetrics_UntrackedRecorders tests no-op methods.
//
// # Description
//
// Durations, waits, and health gauges are export-only concerns. The
// offline recorder must accept them without panicking and without
// affecting the tracked totals.
func TestNoOpLifecycleMetrics_UntrackedRecorders(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	metrics.RecordPhaseDuration("provision_tier_1", 12.4)
	metrics.RecordServiceWait("vault", 3.1)
	metrics.RecordServiceHealth("vault", "essential", "healthy")

	if got := metrics.GetProbeAttempts(); got != 0 {
		t.Errorf("GetProbeAttempts() = %d, want 0", got)
	}
}

// TestNoOpLifecycleMetrics_Register tests registration no-op.
func TestNoOpLifecycleMetrics_Register(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	if err := metrics.Register(); err != nil {
		t.Errorf("Register() = %v, want nil", err)
	}
}

// TestNoOpLifecycleMetrics_ThreadSafety tests concurrent recording.
//
// # Test Steps
//
//  1. Launch multiple goroutines recording probes
//  2. Verify final totals are exact
func TestNoOpLifecycleMetrics_ThreadSafety(t *testing.T) {
	metrics := NewNoOpLifecycleMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%4 == 0 {
					metrics.RecordProbeAttempt("app", "failure")
				} else {
					metrics.RecordProbeAttempt("app", "success")
				}
			}
		}()
	}
	wg.Wait()

	if got := metrics.GetProbeAttempts(); got != 1000 {
		t.Errorf("GetProbeAttempts() = %d, want 1000", got)
	}
	if got := metrics.GetProbeFailures(); got != 250 {
		t.Errorf("GetProbeFailures() = %d, want 250", got)
	}
}

// -----------------------------------------------------------------------------
// PrometheusLifecycleMetrics Tests
// -----------------------------------------------------------------------------

// TestPrometheusLifecycleMetrics_New tests collector construction.
func TestPrometheusLifecycleMetrics_New(t *testing.T) {
	metrics := NewPrometheusLifecycleMetrics()
	if metrics == nil {
		t.Fatal("NewPrometheusLifecycleMetrics returned nil")
	}

	if metrics.phaseDuration == nil {
		t.Error("phaseDuration collector is nil")
	}
	if metrics.probeAttempts == nil {
		t.Error("probeAttempts collector is nil")
	}
	if metrics.serviceWait == nil {
		t.Error("serviceWait collector is nil")
	}
	if metrics.serviceHealth == nil {
		t.Error("serviceHealth collector is nil")
	}
	if metrics.reinstalls == nil {
		t.Error("reinstalls collector is nil")
	}
	if metrics.networkRepairs == nil {
		t.Error("networkRepairs collector is nil")
	}
}

// TestPrometheusLifecycleMetrics_Record tests that recording doesn't panic.
//
// # Description
//
// Recording against unregistered Vec collectors is valid; this test
// exercises every recorder with representative label values.
func TestPrometheusLifecycleMetrics_Record(t *testing.T) {
	metrics := NewPrometheusLifecycleMetrics()

	metrics.RecordPhaseDuration("materialize_env", 0.8)
	metrics.RecordPhaseDuration("provision_tier_0", 22.5)
	metrics.RecordProbeAttempt("postgres", "success")
	metrics.RecordProbeAttempt("ollama", "timeout")
	metrics.RecordServiceWait("kratos", 45.0)
	metrics.RecordServiceHealth("vault", "essential", "healthy")
	metrics.RecordServiceHealth("mailpit", "optional", "timed_out")
	metrics.RecordServiceHealth("docs", "optional", "starting")
	metrics.RecordReinstall("failed")
	metrics.RecordNetworkRepair("veths-unattached")
}

// -----------------------------------------------------------------------------
// Factory Function Tests
// -----------------------------------------------------------------------------

// TestNewDefaultLifecycleMetrics tests factory selection.
//
// # Test Steps
//
//  1. Call factory with export disabled
//  2. Verify NoOp recorder returned
//  3. Call factory with export enabled
//  4. Verify Prometheus recorder returned
func TestNewDefaultLifecycleMetrics(t *testing.T) {
	offline := NewDefaultLifecycleMetrics(false)
	if _, ok := offline.(*NoOpLifecycleMetrics); !ok {
		t.Errorf("Expected *NoOpLifecycleMetrics, got %T", offline)
	}

	exporting := NewDefaultLifecycleMetrics(true)
	if _, ok := exporting.(*PrometheusLifecycleMetrics); !ok {
		t.Errorf("Expected *PrometheusLifecycleMetrics, got %T", exporting)
	}
}
