// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "gpt-oss"
)

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// OllamaProvider adapts Ollama's native /api/chat endpoint.
//
// Ollama does not assign tool call ids, so the adapter generates them and
// maps tool results back by position.
//
// Thread Safety: OllamaProvider is safe for concurrent use.
type OllamaProvider struct {
	blockParser

	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
	logger     *slog.Logger
}

// NewOllamaProvider creates an Ollama adapter. The base URL defaults to
// OLLAMA_BASE_URL and then localhost; the model to OLLAMA_MODEL.
func NewOllamaProvider(cfg Config, logger *slog.Logger) (*OllamaProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimSuffix(firstNonEmpty(cfg.BaseURL, envOr("OLLAMA_BASE_URL", ""), ollamaDefaultBaseURL), "/")
	model := firstNonEmpty(cfg.Model, envOr("OLLAMA_MODEL", ""), ollamaDefaultModel)

	logger.Info("Initializing Ollama provider", slog.String("base_url", baseURL), slog.String("model", model))
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: cfg.timeout(5 * time.Minute)},
		baseURL:    baseURL,
		model:      model,
		maxTokens:  cfg.maxTokens(),
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (o *OllamaProvider) Name() string { return "ollama" }

// Generate implements Provider.
func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (resp *Response, err error) {
	ctx, span := startSpan(ctx, o.Name(), o.model, req)
	defer func() {
		endSpan(span, resp, err)
		span.End()
	}()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(req),
		Stream:   false,
		Options: map[string]any{
			"temperature": 0.2,
			"top_k":       20,
			"top_p":       0.9,
			"num_predict": maxTokens,
		},
	}
	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}

	chatURL := o.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send the request to %s: %w", chatURL, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		o.logger.Error("Ollama chat returned an error",
			slog.Int("status_code", httpResp.StatusCode),
			slog.String("response", truncateBody(respBody)),
		)
		apiErr := &Error{Provider: o.Name(), StatusCode: httpResp.StatusCode, Message: truncateBody(respBody)}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			if httpResp.StatusCode == http.StatusNotFound && strings.Contains(errResp.Error, "not found") {
				apiErr.Message = fmt.Sprintf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
			}
		}
		return nil, apiErr
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama chat response: %w", err)
	}
	if chatResp.Message.Role != "" && chatResp.Message.Role != "assistant" {
		o.logger.Warn("Ollama chat response message role was not 'assistant'", slog.String("role", chatResp.Message.Role))
	}

	return convertOllamaResponse(chatResp)
}

func toOllamaMessages(req GenerateRequest) []ollamaMessage {
	var out []ollamaMessage
	if req.SystemPrompt != "" {
		out = append(out, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}

	// Tool results carry only ids; remember names from the tool_use blocks.
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		if !msg.IsStructured() {
			out = append(out, ollamaMessage{Role: string(msg.Role), Content: msg.Text})
			continue
		}

		var (
			text  strings.Builder
			calls []ollamaToolCall
		)
		for _, b := range msg.Blocks {
			switch b.Type {
			case datatypes.BlockText:
				text.WriteString(b.Text)
			case datatypes.BlockToolUse:
				toolNames[b.ID] = b.Name
				calls = append(calls, ollamaToolCall{Function: ollamaFunctionCall{
					Name:      b.Name,
					Arguments: nonNilInput(b.Input),
				}})
			case datatypes.BlockToolResult:
				out = append(out, ollamaMessage{
					Role:     "tool",
					Content:  b.Content,
					ToolName: toolNames[b.ToolUseID],
				})
			}
		}
		if msg.Role == datatypes.RoleAssistant || text.Len() > 0 {
			out = append(out, ollamaMessage{Role: string(msg.Role), Content: text.String(), ToolCalls: calls})
		}
	}
	return out
}

func convertOllamaResponse(chatResp ollamaChatResponse) (*Response, error) {
	resp := &Response{
		ID:         "ollama-" + uuid.NewString(),
		Model:      chatResp.Model,
		StopReason: chatResp.DoneReason,
		Usage: Usage{
			InputTokens:  chatResp.PromptEvalCount,
			OutputTokens: chatResp.EvalCount,
		},
	}
	if chatResp.Message.Content != "" {
		resp.Blocks = append(resp.Blocks, datatypes.TextBlock(chatResp.Message.Content))
	}
	for _, tc := range chatResp.Message.ToolCalls {
		resp.Blocks = append(resp.Blocks, datatypes.ToolUseBlock(datatypes.ToolCall{
			ID:    "call_" + uuid.NewString(),
			Name:  tc.Function.Name,
			Input: nonNilInput(tc.Function.Arguments),
		}))
	}
	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return resp, nil
}

var _ Provider = (*OllamaProvider)(nil)
