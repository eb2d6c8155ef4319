// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the step chain service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chain execution.
// Metrics include:
//   - Poll counters (by outcome)
//   - Convergence counters (by stop reason)
//   - Step execution histograms (by status)
//   - Oracle request counters and latency histograms (by backend)
//   - Active session gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Helper methods tolerate a nil receiver so callers can run unmetered.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "stepchain"

// Subsystem for chain execution metrics
const engineSubsystem = "engine"

// Subsystem for oracle call metrics
const oracleSubsystem = "oracle"

// EngineMetrics holds all Prometheus metrics for chain execution.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring poll traffic,
// convergence behavior, and oracle usage. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - PollsTotal: Counter of poll requests by outcome
//   - ChainsCreatedTotal: Counter of chains created by task kind
//   - ConvergenceTotal: Counter of converged sessions by stop reason
//   - StepDurationSeconds: Histogram of single step execution time
//   - StepsTotal: Counter of executed steps by status
//   - OracleRequestsTotal: Counter of oracle calls by backend and status
//   - OracleLatencySeconds: Histogram of oracle call latency by backend
//   - ActiveSessions: Gauge of live (unexpired) execution sessions
//   - SubstepsPerItem: Histogram of substep counts on normalized items
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// PollsTotal counts poll requests by outcome.
	// Labels: outcome (in_progress, completed)
	PollsTotal *prometheus.CounterVec

	// ChainsCreatedTotal counts chain registrations by task kind.
	// Labels: kind (normal, report, slide)
	ChainsCreatedTotal *prometheus.CounterVec

	// ConvergenceTotal counts completed sessions by stop reason.
	// Labels: reason (max_steps, quality_stability, structural_coverage,
	// duplicate_content)
	ConvergenceTotal *prometheus.CounterVec

	// StepDurationSeconds measures wall time of a single step execution.
	// Labels: status (completed, failed)
	StepDurationSeconds *prometheus.HistogramVec

	// StepsTotal counts executed steps by terminal status.
	// Labels: status (completed, failed)
	StepsTotal *prometheus.CounterVec

	// OracleRequestsTotal counts oracle calls by backend and status.
	// Labels: backend (openai, ollama, noop), status (success, error)
	OracleRequestsTotal *prometheus.CounterVec

	// OracleLatencySeconds measures oracle call latency.
	// Labels: backend (openai, ollama, noop)
	OracleLatencySeconds *prometheus.HistogramVec

	// ActiveSessions tracks sessions currently held in the engine store.
	ActiveSessions prometheus.Gauge

	// SubstepsPerItem measures substep counts on normalized outline items.
	SubstepsPerItem prometheus.Histogram
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *EngineMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		PollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "polls_total",
				Help:      "Total poll requests by outcome",
			},
			[]string{"outcome"},
		),

		ChainsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "chains_created_total",
				Help:      "Total chains registered by task kind",
			},
			[]string{"kind"},
		),

		ConvergenceTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "convergence_total",
				Help:      "Total converged sessions by stop reason",
			},
			[]string{"reason"},
		),

		StepDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "step_duration_seconds",
				Help:      "Wall time of a single step execution in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0, 60.0},
			},
			[]string{"status"},
		),

		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "steps_total",
				Help:      "Total executed steps by terminal status",
			},
			[]string{"status"},
		),

		OracleRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: oracleSubsystem,
				Name:      "requests_total",
				Help:      "Total oracle calls by backend and status",
			},
			[]string{"backend", "status"},
		),

		OracleLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: oracleSubsystem,
				Name:      "latency_seconds",
				Help:      "Oracle call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 120.0},
			},
			[]string{"backend"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_sessions",
				Help:      "Number of live execution sessions in the store",
			},
		),

		SubstepsPerItem: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "substeps_per_item",
				Help:      "Substep count on normalized outline items",
				Buckets:   []float64{3, 4, 5},
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// PollOutcome represents a poll result for metrics labeling.
type PollOutcome string

const (
	// PollOutcomeInProgress indicates the session has more steps to run.
	PollOutcomeInProgress PollOutcome = "in_progress"

	// PollOutcomeCompleted indicates the session converged on this poll.
	PollOutcomeCompleted PollOutcome = "completed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordPoll records a completed poll request.
//
// # Inputs
//
//   - completed: Whether the poll returned a finalized result.
func (m *EngineMetrics) RecordPoll(completed bool) {
	if m == nil {
		return
	}
	outcome := PollOutcomeInProgress
	if completed {
		outcome = PollOutcomeCompleted
	}
	m.PollsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordChainCreated records a chain registration.
//
// # Inputs
//
//   - kind: The task kind of the new chain.
func (m *EngineMetrics) RecordChainCreated(kind string) {
	if m == nil {
		return
	}
	m.ChainsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordConvergence records a session reaching a stop condition.
//
// # Inputs
//
//   - reason: The machine-readable stop reason.
func (m *EngineMetrics) RecordConvergence(reason string) {
	if m == nil {
		return
	}
	m.ConvergenceTotal.WithLabelValues(reason).Inc()
}

// RecordStep records a single executed step.
//
// # Inputs
//
//   - status: Terminal step status (completed or failed).
//   - seconds: Wall time the step took.
func (m *EngineMetrics) RecordStep(status string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(status).Inc()
	m.StepDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordOracleRequest records an oracle call and its latency.
//
// # Inputs
//
//   - backend: The oracle backend label.
//   - success: Whether the call returned without error.
//   - seconds: Call latency.
func (m *EngineMetrics) RecordOracleRequest(backend string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.OracleRequestsTotal.WithLabelValues(backend, status).Inc()
	m.OracleLatencySeconds.WithLabelValues(backend).Observe(seconds)
}

// SetActiveSessions updates the live session gauge.
//
// # Inputs
//
//   - n: Current number of sessions in the store.
func (m *EngineMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveSubsteps records the substep count of a normalized outline item.
//
// # Inputs
//
//   - n: Substep count after normalization.
func (m *EngineMetrics) ObserveSubsteps(n int) {
	if m == nil {
		return
	}
	m.SubstepsPerItem.Observe(float64(n))
}
