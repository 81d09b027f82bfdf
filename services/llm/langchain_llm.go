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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
)

// ContentGenerator is the part of langchaingo's llms.Model the adapter
// needs. Every langchaingo backend satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChainProvider adapts any langchaingo model to Provider.
//
// Thread Safety: Safe for concurrent use if the wrapped model is.
type LangChainProvider struct {
	blockParser

	model     ContentGenerator
	modelName string
	maxTokens int
	logger    *slog.Logger
}

// NewLangChainProvider wraps an existing langchaingo model.
//
// Inputs:
//
//	model - The langchaingo model. Must not be nil.
//	modelName - Label for logs and spans.
//	maxTokens - Default response budget; <= 0 uses DefaultMaxTokens.
//	logger - Logger. If nil, uses slog.Default().
func NewLangChainProvider(model ContentGenerator, modelName string, maxTokens int, logger *slog.Logger) *LangChainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &LangChainProvider{model: model, modelName: modelName, maxTokens: maxTokens, logger: logger}
}

// NewLangChainOllamaProvider builds a LangChainProvider over langchaingo's
// Ollama client.
func NewLangChainOllamaProvider(cfg Config, logger *slog.Logger) (*LangChainProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimSuffix(firstNonEmpty(cfg.BaseURL, envOr("OLLAMA_BASE_URL", ""), ollamaDefaultBaseURL), "/")
	model := firstNonEmpty(cfg.Model, envOr("OLLAMA_MODEL", ""), ollamaDefaultModel)

	client, err := lcollama.New(lcollama.WithModel(model), lcollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("langchain: failed to create ollama client: %w", err)
	}
	logger.Info("Initializing LangChain provider", slog.String("base_url", baseURL), slog.String("model", model))
	return NewLangChainProvider(client, model, cfg.MaxTokens, logger), nil
}

// Name implements Provider.
func (l *LangChainProvider) Name() string { return "langchain" }

// Generate implements Provider.
func (l *LangChainProvider) Generate(ctx context.Context, req GenerateRequest) (resp *Response, err error) {
	ctx, span := startSpan(ctx, l.Name(), l.modelName, req)
	defer func() {
		endSpan(span, resp, err)
		span.End()
	}()

	messages, err := toLangChainMessages(req)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.maxTokens
	}
	opts := []llms.CallOption{llms.WithMaxTokens(maxTokens)}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.InputSchema,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}

	out, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: generate failed: %w", err)
	}
	if out == nil || len(out.Choices) == 0 || out.Choices[0] == nil {
		return nil, fmt.Errorf("langchain: %w", ErrEmptyResponse)
	}
	return convertLangChainChoice(l.modelName, out.Choices[0])
}

func toLangChainMessages(req GenerateRequest) ([]llms.MessageContent, error) {
	var out []llms.MessageContent
	if req.SystemPrompt != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}

	// Tool results carry only ids; remember names from the tool_use blocks.
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if msg.Role == datatypes.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		if !msg.IsStructured() {
			out = append(out, llms.TextParts(role, msg.Text))
			continue
		}

		var parts []llms.ContentPart
		for _, b := range msg.Blocks {
			switch b.Type {
			case datatypes.BlockText:
				parts = append(parts, llms.TextContent{Text: b.Text})
			case datatypes.BlockToolUse:
				args, err := json.Marshal(nonNilInput(b.Input))
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool input for %s: %w", b.Name, err)
				}
				toolNames[b.ID] = b.Name
				parts = append(parts, llms.ToolCall{
					ID:   b.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      b.Name,
						Arguments: string(args),
					},
				})
			case datatypes.BlockToolResult:
				out = append(out, llms.MessageContent{
					Role: llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{llms.ToolCallResponse{
						ToolCallID: b.ToolUseID,
						Name:       toolNames[b.ToolUseID],
						Content:    b.Content,
					}},
				})
			}
		}
		if len(parts) > 0 {
			out = append(out, llms.MessageContent{Role: role, Parts: parts})
		}
	}
	return out, nil
}

func convertLangChainChoice(model string, choice *llms.ContentChoice) (*Response, error) {
	resp := &Response{
		Model:      model,
		StopReason: choice.StopReason,
	}
	if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		resp.Usage.InputTokens = v
	}
	if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		resp.Usage.OutputTokens = v
	}

	if choice.Content != "" {
		resp.Blocks = append(resp.Blocks, datatypes.TextBlock(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		input := map[string]any{}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &input); err != nil {
				return nil, fmt.Errorf("langchain: invalid arguments for tool %s: %w", tc.FunctionCall.Name, err)
			}
		}
		resp.Blocks = append(resp.Blocks, datatypes.ToolUseBlock(datatypes.ToolCall{
			ID:    tc.ID,
			Name:  tc.FunctionCall.Name,
			Input: input,
		}))
	}

	if len(resp.Blocks) == 0 {
		return nil, fmt.Errorf("langchain: %w", ErrEmptyResponse)
	}
	return resp, nil
}

var _ Provider = (*LangChainProvider)(nil)
