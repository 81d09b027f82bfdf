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
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/retry"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel   = "claude-3-5-sonnet-20240620"

	// statusOverloaded is Anthropic's non-standard "overloaded" status.
	statusOverloaded = 529
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []toolsDefinition  `json:"tools,omitempty"`
}

// anthropicMessage content is a string or a []anthropicBlock.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type toolsDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicProvider talks to the Anthropic Messages API over REST.
//
// Thread Safety: AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	blockParser

	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	logger     *slog.Logger
}

// NewAnthropicProvider creates an Anthropic adapter.
//
// Description:
//
//	The API key comes from cfg.APIKey, then ANTHROPIC_API_KEY, then the
//	anthropic_api_key container secret. The model defaults to
//	CLAUDE_MODEL and then to a pinned Sonnet release.
//
// Inputs:
//
//	cfg - Backend configuration. BaseURL overrides the Messages endpoint.
//	logger - Logger. If nil, uses slog.Default().
//
// Outputs:
//
//	*AnthropicProvider - Ready adapter.
//	error - ErrMissingAPIKey if no key was found.
func NewAnthropicProvider(cfg Config, logger *slog.Logger) (*AnthropicProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := resolveAPIKey(cfg.APIKey, "ANTHROPIC_API_KEY", "anthropic_api_key", logger)
	if apiKey == "" {
		logger.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}

	model := firstNonEmpty(cfg.Model, envOr("CLAUDE_MODEL", ""), anthropicDefaultModel)
	baseURL := firstNonEmpty(cfg.BaseURL, anthropicDefaultBaseURL)

	logger.Info("Initializing Anthropic provider", slog.String("model", model))
	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: cfg.timeout(60 * time.Second)},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		maxTokens:  cfg.maxTokens(),
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (a *AnthropicProvider) Name() string { return "anthropic" }

// Generate implements Provider.
func (a *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (resp *Response, err error) {
	ctx, span := startSpan(ctx, a.Name(), a.model, req)
	defer func() {
		endSpan(span, resp, err)
		span.End()
	}()

	payload, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	a.logger.Debug("Sending REST request to Anthropic",
		slog.String("model", a.model),
		slog.Int("messages", len(payload.Messages)),
		slog.Int("tools", len(payload.Tools)),
	)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.statusError(httpResp.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, &Error{Provider: a.Name(), StatusCode: httpResp.StatusCode, Type: apiResp.Error.Type, Message: apiResp.Error.Message}
	}

	return a.convertResponse(apiResp)
}

func (a *AnthropicProvider) statusError(status int, body []byte) error {
	apiErr := &Error{Provider: a.Name(), StatusCode: status, Message: truncateBody(body)}
	var envelope struct {
		Error *anthropicError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}

	a.logger.Warn("Anthropic API returned an error",
		slog.Int("status", status),
		slog.String("type", apiErr.Type),
	)

	if status == statusOverloaded {
		return retry.Transient(apiErr)
	}
	return apiErr
}

func (a *AnthropicProvider) buildRequest(req GenerateRequest) (anthropicRequest, error) {
	payload := anthropicRequest{
		Model:     a.model,
		MaxTokens: req.MaxTokens,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = a.maxTokens
	}

	if req.SystemPrompt != "" {
		block := systemBlock{Type: "text", Text: req.SystemPrompt}
		// Long prompts are worth caching across loop iterations.
		if len(req.SystemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		payload.System = []systemBlock{block}
	}

	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, toolsDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}

	for _, msg := range req.Messages {
		converted, err := toAnthropicMessage(msg)
		if err != nil {
			return anthropicRequest{}, err
		}
		payload.Messages = append(payload.Messages, converted)
	}
	return payload, nil
}

func toAnthropicMessage(msg datatypes.Message) (anthropicMessage, error) {
	if !msg.IsStructured() {
		return anthropicMessage{Role: string(msg.Role), Content: msg.Text}, nil
	}

	blocks := make([]anthropicBlock, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case datatypes.BlockText:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: b.Text})
		case datatypes.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			raw, err := json.Marshal(input)
			if err != nil {
				return anthropicMessage{}, fmt.Errorf("failed to marshal tool input for %s: %w", b.Name, err)
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: raw})
		case datatypes.BlockToolResult:
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		}
	}
	return anthropicMessage{Role: string(msg.Role), Content: blocks}, nil
}

func (a *AnthropicProvider) convertResponse(apiResp anthropicResponse) (*Response, error) {
	resp := &Response{
		ID:         apiResp.ID,
		Model:      apiResp.Model,
		StopReason: apiResp.StopReason,
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}

	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, datatypes.TextBlock(block.Text))
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid input for tool %s: %w", block.Name, err)
				}
			}
			resp.Blocks = append(resp.Blocks, datatypes.ToolUseBlock(datatypes.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			}))
		case "thinking":
			a.logger.Debug("Claude Thoughts", slog.String("thinking", block.Thinking))
		}
	}

	if len(resp.Blocks) == 0 {
		// Claude may end a turn with no content after tool results.
		if apiResp.StopReason == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
		}
		resp.Blocks = []datatypes.ContentBlock{datatypes.TextBlock("")}
	}
	return resp, nil
}

var _ Provider = (*AnthropicProvider)(nil)
