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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIProvider adapts the OpenAI chat completions API.
//
// Tool results are sent as "tool" role messages, one per result, in the
// order of the neutral tool_result blocks.
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	blockParser

	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIProvider creates an OpenAI adapter.
//
// The API key comes from cfg.APIKey, then OPENAI_API_KEY, then the
// openai_api_key container secret. The model defaults to OPENAI_MODEL and
// then to gpt-4o-mini. BaseURL supports OpenAI-compatible servers.
func NewOpenAIProvider(cfg Config, logger *slog.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", "openai_api_key", logger)
	if apiKey == "" {
		logger.Error("OPENAI_API_KEY environment variable not set and secret not found")
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	model := firstNonEmpty(cfg.Model, envOr("OPENAI_MODEL", ""), openAIDefaultModel)

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.timeout(60 * time.Second)}

	logger.Info("Initializing OpenAI provider", slog.String("model", model))
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.maxTokens(),
		logger:    logger,
	}, nil
}

// Name implements Provider.
func (o *OpenAIProvider) Name() string { return "openai" }

// Generate implements Provider.
func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (resp *Response, err error) {
	ctx, span := startSpan(ctx, o.Name(), o.model, req)
	defer func() {
		endSpan(span, resp, err)
		span.End()
	}()

	chatReq, err := o.buildRequest(req)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Generating via OpenAI",
		slog.String("model", o.model),
		slog.Int("messages", len(chatReq.Messages)),
		slog.Int("tools", len(chatReq.Tools)),
	)

	apiResp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		o.logger.Error("OpenAI API call failed", slog.String("error", err.Error()))
		return nil, o.wrapError(err)
	}

	if len(apiResp.Choices) == 0 {
		o.logger.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	choice := apiResp.Choices[0]
	o.logger.Debug("Received response from OpenAI", slog.String("finish_reason", string(choice.FinishReason)))
	return convertOpenAIChoice(apiResp.ID, apiResp.Model, choice, apiResp.Usage)
}

func (o *OpenAIProvider) buildRequest(req GenerateRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:               o.model,
		MaxCompletionTokens: req.MaxTokens,
	}
	if chatReq.MaxCompletionTokens <= 0 {
		chatReq.MaxCompletionTokens = o.maxTokens
	}

	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		converted, err := toOpenAIMessages(msg)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		chatReq.Messages = append(chatReq.Messages, converted...)
	}

	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return chatReq, nil
}

func toOpenAIMessages(msg datatypes.Message) ([]openai.ChatCompletionMessage, error) {
	role := openai.ChatMessageRoleUser
	if msg.Role == datatypes.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	if !msg.IsStructured() {
		return []openai.ChatCompletionMessage{{Role: role, Content: msg.Text}}, nil
	}

	var (
		out       []openai.ChatCompletionMessage
		text      strings.Builder
		toolCalls []openai.ToolCall
	)
	for _, b := range msg.Blocks {
		switch b.Type {
		case datatypes.BlockText:
			text.WriteString(b.Text)
		case datatypes.BlockToolUse:
			args, err := json.Marshal(nonNilInput(b.Input))
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool input for %s: %w", b.Name, err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      b.Name,
					Arguments: string(args),
				},
			})
		case datatypes.BlockToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: b.ToolUseID,
				Content:    b.Content,
			})
		}
	}

	if role == openai.ChatMessageRoleAssistant {
		return append(out, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		}), nil
	}
	if text.Len() > 0 {
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text.String()})
	}
	return out, nil
}

func convertOpenAIChoice(id, model string, choice openai.ChatCompletionChoice, usage openai.Usage) (*Response, error) {
	resp := &Response{
		ID:         id,
		Model:      model,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}

	if choice.Message.Content != "" {
		resp.Blocks = append(resp.Blocks, datatypes.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("openai: invalid arguments for tool %s: %w", tc.Function.Name, err)
			}
		}
		resp.Blocks = append(resp.Blocks, datatypes.ToolUseBlock(datatypes.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		}))
	}

	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return resp, nil
}

// wrapError maps go-openai errors onto *Error so the status is visible to
// retry classification.
func (o *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Provider:   o.Name(),
			StatusCode: apiErr.HTTPStatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Provider:   o.Name(),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Err:        err,
		}
	}
	return fmt.Errorf("openai: API call failed: %w", err)
}

func nonNilInput(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

var _ Provider = (*OpenAIProvider)(nil)
