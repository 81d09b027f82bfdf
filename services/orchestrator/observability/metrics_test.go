// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates ChatMetrics on a private registry so tests never
// collide on the global one.
func newTestMetrics(t *testing.T) (*ChatMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewChatMetrics(reg), reg
}

func TestNewChatMetrics_RegistersEverything(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRequest(EndpointSendMessage, true)
	m.RecordError(EndpointSendMessage, ErrorCodeTimeout)
	m.TurnStarted()
	m.TurnEnded(1.5, true)
	m.RecordLockWait(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"aleutian_chat_requests_total",
		"aleutian_chat_turn_duration_seconds",
		"aleutian_chat_active_turns",
		"aleutian_chat_errors_total",
		"aleutian_chat_conversation_lock_wait_seconds",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestNewChatMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewChatMetrics(reg)
	assert.Panics(t, func() { NewChatMetrics(reg) })
}

func TestChatMetrics_RecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointSendMessage, true)
	m.RecordRequest(EndpointSendMessage, true)
	m.RecordRequest(EndpointSendMessage, false)
	m.RecordRequest(EndpointListConversations, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("send_message", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("send_message", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("list_conversations", "success")))
}

func TestChatMetrics_RecordError(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordError(EndpointSendMessage, ErrorCodeLoopExceeded)
	m.RecordError(EndpointSendMessage, ErrorCodeLoopExceeded)
	m.RecordError(EndpointGetConversation, ErrorCodeNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("send_message", "loop_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("get_conversation", "not_found")))
}

func TestChatMetrics_ActiveTurns(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.TurnStarted()
	m.TurnStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveTurns))

	m.TurnEnded(0.3, true)
	m.TurnEnded(4, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveTurns))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TurnDurationSeconds))
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []ErrorCode{
		ErrorCodeValidation, ErrorCodeNotFound, ErrorCodeLoopExceeded, ErrorCodeLLMError,
		ErrorCodeSubConversation, ErrorCodeTimeout, ErrorCodePersistence, ErrorCodeInternal,
	}
	seen := map[ErrorCode]bool{}
	for _, c := range codes {
		assert.NotEmpty(t, c)
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}
