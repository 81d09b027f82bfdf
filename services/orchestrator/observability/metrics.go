// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for chat API metrics
const chatSubsystem = "chat"

// ChatMetrics holds the Prometheus metrics for the conversation API.
//
// # Description
//
// Counters, histograms and gauges describing API traffic. The tool loop
// itself reports through the OpenTelemetry meter; these metrics describe
// what clients see.
//
// # Fields
//
//   - RequestsTotal: Requests by endpoint and status.
//   - TurnDurationSeconds: SendMessage latency as seen by the client.
//   - ActiveTurns: SendMessage calls currently running.
//   - ErrorsTotal: Failed requests by endpoint and error code.
//   - LockWaitSeconds: Time spent waiting for a conversation's lock.
//
// # Thread Safety
//
// All operations are thread-safe.
type ChatMetrics struct {
	RequestsTotal       *prometheus.CounterVec
	TurnDurationSeconds *prometheus.HistogramVec
	ActiveTurns         prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
	LockWaitSeconds     prometheus.Histogram
}

// NewChatMetrics creates and registers the chat metrics with reg.
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Duration of a conversation turn in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_turns",
				Help:      "Number of conversation turns currently running",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total chat API errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		LockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "conversation_lock_wait_seconds",
				Help:      "Time spent waiting for exclusive access to a conversation",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates an unknown conversation.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeLoopExceeded indicates the tool loop hit its iteration limit.
	ErrorCodeLoopExceeded ErrorCode = "loop_exceeded"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeSubConversation indicates an oversized result could not be summarized.
	ErrorCodeSubConversation ErrorCode = "subconversation_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodePersistence indicates the store failed.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an API endpoint for metrics labeling.
type Endpoint string

const (
	EndpointCreateConversation Endpoint = "create_conversation"
	EndpointListConversations  Endpoint = "list_conversations"
	EndpointGetConversation    Endpoint = "get_conversation"
	EndpointSendMessage        Endpoint = "send_message"
)

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a failed request.
func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// TurnStarted increments the active turns gauge.
func (m *ChatMetrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active turns gauge and records the duration.
//
// # Inputs
//
//   - seconds: Total duration in seconds.
//   - success: Whether the turn completed successfully.
func (m *ChatMetrics) TurnEnded(seconds float64, success bool) {
	m.ActiveTurns.Dec()
	m.TurnDurationSeconds.WithLabelValues(statusLabel(success)).Observe(seconds)
}

// RecordLockWait records time spent waiting for a conversation lock.
func (m *ChatMetrics) RecordLockWait(seconds float64) {
	m.LockWaitSeconds.Observe(seconds)
}
