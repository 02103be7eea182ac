// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package diagnostics: Prometheus metrics for stack lifecycle operations.

This file implements the LifecycleMetrics interface, enabling monitoring
and alerting for startup, teardown, and reinstall flows.

# Modes

  - NoOpLifecycleMetrics: Records totals in memory, no export. The
    default for hosts without a Prometheus scrape target.
  - PrometheusLifecycleMetrics: Full Prometheus export with labels,
    scraped by the stack's own prometheus service.

# Metrics Exported

Stack metrics (stack subsystem):

  - sting_stack_phase_duration_seconds: Histogram by lifecycle phase
  - sting_stack_probe_attempts_total: Counter by service and result
  - sting_stack_reinstalls_total: Counter by outcome
  - sting_stack_network_repairs_total: Counter by fault

Service metrics (service subsystem):

  - sting_service_health: Gauge by service, criticality, state
  - sting_service_wait_seconds: Histogram of time-to-healthy by service

# Grafana Dashboard

Use these metrics to build dashboards showing:

  - Startup duration trends (regression detection per tier)
  - Probe failure hot spots (flaky services surface immediately)
  - Reinstall rollback rate
*/
package diagnostics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// Metric namespace and subsystems.
const (
	// metricsNamespace is the namespace for all lifecycle metrics.
	metricsNamespace = "sting"

	// metricsSubsystemStack is the subsystem for stack-wide metrics.
	metricsSubsystemStack = "stack"

	// metricsSubsystemService is the subsystem for per-service metrics.
	metricsSubsystemService = "service"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// LifecycleMetrics records observability data for lifecycle operations.
//
// # Description
//
// Abstracts metric recording so the sequencer and health checker can
// emit without knowing whether Prometheus export is enabled.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use; probes for
// services in the same tier record from parallel goroutines.
type LifecycleMetrics interface {
	// RecordPhaseDuration records how long a lifecycle phase took.
	//
	// # Inputs
	//
	//   - phase: Phase name (e.g. "materialize_env", "provision_tier_2")
	//   - seconds: Wall-clock duration
	RecordPhaseDuration(phase string, seconds float64)

	// RecordProbeAttempt records one health probe attempt.
	//
	// # Inputs
	//
	//   - service: Service name (e.g. "postgres")
	//   - result: "success", "failure", or "timeout"
	RecordProbeAttempt(service, result string)

	// RecordServiceWait records the total time a service took to
	// become healthy (or to exhaust its attempts).
	RecordServiceWait(service string, seconds float64)

	// RecordServiceHealth records the current health state of a service.
	//
	// # Inputs
	//
	//   - service: Service name
	//   - criticality: "essential", "important", or "optional"
	//   - state: Health state string (e.g. "healthy", "timed_out")
	RecordServiceHealth(service, criticality, state string)

	// RecordReinstall records a completed reinstall session by outcome.
	//
	// # Inputs
	//
	//   - outcome: "succeeded", "rolled_back", or "failed"
	RecordReinstall(outcome string)

	// RecordNetworkRepair records a detected bridge network fault.
	//
	// # Inputs
	//
	//   - fault: Fault classification (e.g. "missing-gateway-ip")
	RecordNetworkRepair(fault string)

	// Register registers collectors with the Prometheus default registry.
	// No-op recorders always succeed.
	Register() error
}

// -----------------------------------------------------------------------------
// NoOpLifecycleMetrics Implementation (Offline Mode)
// -----------------------------------------------------------------------------

// NoOpLifecycleMetrics is an offline recorder that doesn't export.
//
// # Description
//
// This implementation records totals in memory for local inspection but
// doesn't export to Prometheus. Useful for development and air-gapped
// environments.
//
// # Thread Safety
//
// NoOpLifecycleMetrics is safe for concurrent use.
type NoOpLifecycleMetrics struct {
	// probeAttempts is the total probe attempt count.
	probeAttempts atomic.Int64

	// probeFailures is the count of failed or timed out probes.
	probeFailures atomic.Int64

	// reinstalls is the total reinstall session count.
	reinstalls atomic.Int64

	// networkRepairs is the total detected network fault count.
	networkRepairs atomic.Int64
}

// NewNoOpLifecycleMetrics creates an offline metrics recorder.
//
// # Examples
//
//	metrics := NewNoOpLifecycleMetrics()
//	metrics.RecordProbeAttempt("postgres", "success")
//	fmt.Printf("Probes: %d\n", metrics.GetProbeAttempts())
func NewNoOpLifecycleMetrics() *NoOpLifecycleMetrics {
	return &NoOpLifecycleMetrics{}
}

// RecordPhaseDuration is tracked only by Prometheus recorders.
func (m *NoOpLifecycleMetrics) RecordPhaseDuration(phase string, seconds float64) {
	// No-op: durations not tracked in memory
}

// RecordProbeAttempt increments the in-memory probe counters.
func (m *NoOpLifecycleMetrics) RecordProbeAttempt(service, result string) {
	m.probeAttempts.Add(1)
	if result != "success" {
		m.probeFailures.Add(1)
	}
}

// RecordServiceWait is tracked only by Prometheus recorders.
func (m *NoOpLifecycleMetrics) RecordServiceWait(service string, seconds float64) {
	// No-op: wait histograms not tracked in memory
}

// RecordServiceHealth is tracked only by Prometheus recorders.
func (m *NoOpLifecycleMetrics) RecordServiceHealth(service, criticality, state string) {
	// No-op: health gauges not tracked in memory
}

// RecordReinstall increments the in-memory reinstall counter.
func (m *NoOpLifecycleMetrics) RecordReinstall(outcome string) {
	m.reinstalls.Add(1)
}

// RecordNetworkRepair increments the in-memory repair counter.
func (m *NoOpLifecycleMetrics) RecordNetworkRepair(fault string) {
	m.networkRepairs.Add(1)
}

// Register is a no-op since there are no collectors to register.
func (m *NoOpLifecycleMetrics) Register() error {
	return nil
}

// GetProbeAttempts returns the total probe attempt count for testing.
func (m *NoOpLifecycleMetrics) GetProbeAttempts() int64 {
	return m.probeAttempts.Load()
}

// GetProbeFailures returns the failed probe count for testing.
func (m *NoOpLifecycleMetrics) GetProbeFailures() int64 {
	return m.probeFailures.Load()
}

// GetReinstalls returns the reinstall session count for testing.
func (m *NoOpLifecycleMetrics) GetReinstalls() int64 {
	return m.reinstalls.Load()
}

// GetNetworkRepairs returns the network fault count for testing.
func (m *NoOpLifecycleMetrics) GetNetworkRepairs() int64 {
	return m.networkRepairs.Load()
}

// -----------------------------------------------------------------------------
// PrometheusLifecycleMetrics Implementation (Exporting Mode)
// -----------------------------------------------------------------------------

// PrometheusLifecycleMetrics exports lifecycle metrics to Prometheus.
//
// # Description
//
// Exports to Prometheus for Grafana dashboards and Alertmanager
// alerting. The stack's prometheus service scrapes the CLI's pushed
// metrics endpoint when long-running operations expose one.
//
// # Metrics
//
// Stack metrics:
//   - sting_stack_phase_duration_seconds (labels: phase)
//   - sting_stack_probe_attempts_total (labels: service, result)
//   - sting_stack_reinstalls_total (labels: outcome)
//   - sting_stack_network_repairs_total (labels: fault)
//
// Service metrics:
//   - sting_service_health (labels: service, criticality, state)
//   - sting_service_wait_seconds (labels: service)
//
// # Thread Safety
//
// PrometheusLifecycleMetrics is safe for concurrent use.
type PrometheusLifecycleMetrics struct {
	// phaseDuration is a histogram of lifecycle phase durations.
	phaseDuration *prometheus.HistogramVec

	// probeAttempts counts probe attempts by service and result.
	probeAttempts *prometheus.CounterVec

	// serviceWait is a histogram of time-to-healthy per service.
	serviceWait *prometheus.HistogramVec

	// serviceHealth tracks service health state.
	serviceHealth *prometheus.GaugeVec

	// reinstalls counts reinstall sessions by outcome.
	reinstalls *prometheus.CounterVec

	// networkRepairs counts detected bridge faults.
	networkRepairs *prometheus.CounterVec

	// registered tracks if metrics are registered.
	registered bool

	// mu protects registered flag.
	mu sync.Mutex
}

// NewPrometheusLifecycleMetrics creates an exporting metrics recorder.
//
// # Description
//
// Creates a metrics recorder that exports to Prometheus. Call Register()
// after creation to register with the Prometheus default registry.
//
// # Examples
//
//	metrics := NewPrometheusLifecycleMetrics()
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
//	metrics.RecordProbeAttempt("postgres", "success")
func NewPrometheusLifecycleMetrics() *PrometheusLifecycleMetrics {
	return &PrometheusLifecycleMetrics{
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStack,
				Name:      "phase_duration_seconds",
				Help:      "Duration of stack lifecycle phases in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),

		probeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStack,
				Name:      "probe_attempts_total",
				Help:      "Total health probe attempts by service and result",
			},
			[]string{"service", "result"},
		),

		serviceWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "wait_seconds",
				Help:      "Time for a service to become healthy in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"service"},
		),

		serviceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "health",
				Help:      "Service health (1=healthy, 0=unhealthy, -1=unknown)",
			},
			[]string{"service", "criticality", "state"},
		),

		reinstalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStack,
				Name:      "reinstalls_total",
				Help:      "Total reinstall sessions by outcome",
			},
			[]string{"outcome"},
		),

		networkRepairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemStack,
				Name:      "network_repairs_total",
				Help:      "Total detected bridge network faults by classification",
			},
			[]string{"fault"},
		),
	}
}

// RecordPhaseDuration records a lifecycle phase duration.
//
// # Limitations
//
//   - High-cardinality phase names cause metric explosion; callers use
//     a fixed phase vocabulary
func (m *PrometheusLifecycleMetrics) RecordPhaseDuration(phase string, seconds float64) {
	m.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordProbeAttempt records one health probe attempt.
func (m *PrometheusLifecycleMetrics) RecordProbeAttempt(service, result string) {
	m.probeAttempts.WithLabelValues(service, result).Inc()
}

// RecordServiceWait records time-to-healthy for a service.
func (m *PrometheusLifecycleMetrics) RecordServiceWait(service string, seconds float64) {
	m.serviceWait.WithLabelValues(service).Observe(seconds)
}

// RecordServiceHealth records the current health state of a service.
func (m *PrometheusLifecycleMetrics) RecordServiceHealth(service, criticality, state string) {
	var value float64
	switch state {
	case "healthy":
		value = 1
	case "unhealthy", "timed_out", "not_found":
		value = 0
	default:
		value = -1
	}
	m.serviceHealth.WithLabelValues(service, criticality, state).Set(value)
}

// RecordReinstall records a completed reinstall session.
func (m *PrometheusLifecycleMetrics) RecordReinstall(outcome string) {
	m.reinstalls.WithLabelValues(outcome).Inc()
}

// RecordNetworkRepair records a detected bridge fault.
func (m *PrometheusLifecycleMetrics) RecordNetworkRepair(fault string) {
	m.networkRepairs.WithLabelValues(fault).Inc()
}

// Register registers all metrics with Prometheus.
//
// # Description
//
// Registers metric collectors with the Prometheus default registry.
// Should be called once during application startup. Calling twice is
// a no-op.
//
// # Outputs
//
//   - error: Non-nil if registration fails (e.g., duplicate metrics)
func (m *PrometheusLifecycleMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.phaseDuration,
		m.probeAttempts,
		m.serviceWait,
		m.serviceHealth,
		m.reinstalls,
		m.networkRepairs,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// NewDefaultLifecycleMetrics creates the appropriate recorder.
//
// # Description
//
// Factory function that returns PrometheusLifecycleMetrics when export
// is enabled, NoOpLifecycleMetrics otherwise.
//
// # Examples
//
//	metrics := NewDefaultLifecycleMetrics(cfg.Observability.PrometheusEnabled)
//	if err := metrics.Register(); err != nil {
//	    log.Fatal(err)
//	}
func NewDefaultLifecycleMetrics(enablePrometheus bool) LifecycleMetrics {
	if enablePrometheus {
		return NewPrometheusLifecycleMetrics()
	}
	return NewNoOpLifecycleMetrics()
}

// Compile-time interface compliance checks.
var _ LifecycleMetrics = (*NoOpLifecycleMetrics)(nil)
var _ LifecycleMetrics = (*PrometheusLifecycleMetrics)(nil)
