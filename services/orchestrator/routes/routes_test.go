// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newDeps(metrics http.Handler) Deps {
	return Deps{
		Conversations: handlers.NewConversationHandler(persistence.NewMemoryStore(), nil, nil, 0, nil),
		Metrics:       metrics,
	}
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersConversationRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(http.NotFoundHandler()))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/conversations"},
		{"GET", "/v1/conversations"},
		{"GET", "/v1/conversations/:id"},
		{"POST", "/v1/conversations/:id/messages"},
	}
	for _, e := range expected {
		assert.True(t, hasRoute(router, e.method, e.path), "missing %s %s", e.method, e.path)
	}
}

func TestSetupRoutes_MetricsOptional(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(nil))

	assert.False(t, hasRoute(router, "GET", "/metrics"))
}

func TestSetupRoutes_MetricsHandlerIsServed(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("agent_metric 1\n"))
	})))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agent_metric")
}

func TestSetupRoutes_Health(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
