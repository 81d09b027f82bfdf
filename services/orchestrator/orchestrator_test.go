// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/llm/llmtest"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/config"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tools"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a valid config with exporters disabled.
func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Telemetry.TraceExporter = observability.ExporterNone
	cfg.Telemetry.MetricExporter = observability.ExporterNone
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_RegistersBuiltinAndCallerTools(t *testing.T) {
	svc, err := New(context.Background(), testConfig(),
		WithProvider(llmtest.New()),
		WithTools(func(r *tools.Registry) error {
			return r.Register("ping", "Replies pong", map[string]any{"type": "object"},
				tools.HandlerFunc(func(context.Context, map[string]any) (any, error) { return "pong", nil }))
		}))
	require.NoError(t, err)
	defer svc.Close(context.Background())

	assert.True(t, svc.Registry().Has(tools.ToolCurrentTime))
	assert.True(t, svc.Registry().Has(tools.ToolWordCount))
	assert.True(t, svc.Registry().Has("ping"))
	assert.Equal(t, testConfig().Agent, svc.Agent().Config())
}

func TestNew_WithoutBuiltinTools(t *testing.T) {
	svc, err := New(context.Background(), testConfig(), WithProvider(llmtest.New()), WithoutBuiltinTools())
	require.NoError(t, err)
	defer svc.Close(context.Background())

	assert.Equal(t, 0, svc.Registry().Len())
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		opts   []Option
		target error
	}{
		{
			name:   "invalid config",
			mutate: func(c *config.Config) { c.Agent.MaxIterations = 0 },
			target: config.ErrInvalidConfig,
		},
		{
			name:   "unknown telemetry exporter",
			mutate: func(c *config.Config) { c.Telemetry.TraceExporter = "zipkin" },
		},
		{
			name: "anthropic without key",
			mutate: func(c *config.Config) {
				c.LLM.Backend = llm.BackendAnthropic
			},
			target: llm.ErrMissingAPIKey,
		},
		{
			name: "duplicate tool",
			opts: []Option{WithProvider(llmtest.New()), WithTools(func(r *tools.Registry) error {
				return tools.RegisterBuiltins(r, nil)
			})},
			target: tools.ErrDuplicateTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "")
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			svc, err := New(context.Background(), cfg, tt.opts...)

			require.Error(t, err)
			assert.Nil(t, svc)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestNew_BadgerStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: config.StorageBadger, Path: t.TempDir()}

	svc, err := New(context.Background(), cfg, WithProvider(llmtest.New()))
	require.NoError(t, err)

	_, isBadger := svc.Store().(*persistence.BadgerStore)
	assert.True(t, isBadger)
	assert.NoError(t, svc.Close(context.Background()))
}

// =============================================================================
// End-to-End Tests
// =============================================================================

// TestService_ConversationOverHTTP creates a conversation, runs a turn that
// calls word_count and reads the transcript back.
func TestService_ConversationOverHTTP(t *testing.T) {
	// Arrange
	provider := llmtest.New(
		llmtest.ToolUse(datatypes.ToolCall{ID: "wc1", Name: tools.ToolWordCount,
			Input: map[string]any{"text": "one two three"}}),
		llmtest.Text("That text has 3 words."),
	)
	svc, err := New(context.Background(), testConfig(), WithProvider(provider))
	require.NoError(t, err)
	defer svc.Close(context.Background())
	router := svc.Router()

	// Act
	w := post(t, router, "/v1/conversations", `{"id":"e2e"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = post(t, router, "/v1/conversations/e2e/messages", `{"message":"How many words in 'one two three'?"}`)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "That text has 3 words.", resp.Answer)
	assert.Equal(t, 4, resp.MessageCount)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/e2e", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv datatypes.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Messages, 4)
	assert.Contains(t, conv.Messages[2].Blocks[0].Content, `"words": 3`)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 2, "built-in tools are offered to the provider")
}

func TestService_MetricsEndpoint(t *testing.T) {
	svc, err := New(context.Background(), testConfig(), WithProvider(llmtest.New()))
	require.NoError(t, err)
	defer svc.Close(context.Background())

	post(t, svc.Router(), "/v1/conversations", "")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_chat_requests_total")
}

// =============================================================================
// Run Tests
// =============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = time.Second
	svc, err := New(context.Background(), cfg, WithProvider(llmtest.New()))
	require.NoError(t, err)
	defer svc.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Act
	url := fmt.Sprintf("http://%s/health", cfg.Server.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	// Assert
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	svc, err := New(context.Background(), cfg, WithProvider(llmtest.New()))
	require.NoError(t, err)
	defer svc.Close(context.Background())

	err = svc.Run(context.Background())

	assert.Error(t, err)
}
