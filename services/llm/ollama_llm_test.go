// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOllamaProvider creates an OllamaProvider pointing to a test server.
//
// # Description
//
// Bypasses environment variable configuration by passing BaseURL and
// Model explicitly.
func newTestOllamaProvider(t *testing.T, baseURL string) *OllamaProvider {
	t.Helper()
	p, err := NewOllamaProvider(Config{Backend: BackendOllama, BaseURL: baseURL, Model: "test-model"}, nil)
	require.NoError(t, err)
	return p
}

func TestOllamaProvider_Generate_ToolCalls(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		got = captureRequest(t, r)
		_, _ = w.Write([]byte(`{
			"model": "test-model", "done": true, "done_reason": "stop",
			"prompt_eval_count": 30, "eval_count": 7,
			"message": {"role": "assistant", "content": "", "tool_calls": [
				{"function": {"name": "word_count", "arguments": {"text": "one two"}}}
			]}
		}`))
	}))
	defer server.Close()

	p := newTestOllamaProvider(t, server.URL+"/")
	history := []datatypes.Message{
		datatypes.NewTextMessage(datatypes.RoleUser, "count"),
		datatypes.NewBlockMessage(datatypes.RoleAssistant, []datatypes.ContentBlock{
			datatypes.ToolUseBlock(datatypes.ToolCall{ID: "call_0", Name: "word_count", Input: map[string]any{"text": "x"}}),
		}),
		datatypes.NewBlockMessage(datatypes.RoleUser, []datatypes.ContentBlock{
			datatypes.ToolResultBlock(datatypes.ToolResult{ToolCallID: "call_0", Content: "1", Success: true}),
		}),
	}

	resp, err := p.Generate(context.Background(), GenerateRequest{
		Messages:     history,
		SystemPrompt: "sys",
		MaxTokens:    100,
		Tools: []datatypes.ToolDefinition{{
			Name: "word_count", Description: "Counts words", InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	calls := p.ExtractToolCalls(resp)
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.Equal(t, "one two", calls[0].Input["text"])
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 7}, resp.Usage)

	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(100), got["options"].(map[string]any)["num_predict"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "word_count", tool["tool_name"])
	assert.Len(t, got["tools"].([]any), 1)
}

func TestOllamaProvider_Generate_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'test-model' not found"}`))
	}))
	defer server.Close()

	p := newTestOllamaProvider(t, server.URL)
	_, err := p.Generate(context.Background(), GenerateRequest{
		Messages: []datatypes.Message{datatypes.NewTextMessage(datatypes.RoleUser, "hi")},
	})

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "ollama pull test-model")
}
