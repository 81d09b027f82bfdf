// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts language-model backends to the Provider contract.
//
// The orchestrator only sees Provider, GenerateRequest and Response. Every
// vendor wire format stays inside its adapter file.
package llm

import (
	"context"
	"strings"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.llm")

// GenerateRequest is one provider call.
type GenerateRequest struct {
	// Messages is the windowed history, oldest first.
	Messages []datatypes.Message

	// MaxTokens caps the response length. Zero uses the adapter default.
	MaxTokens int

	// SystemPrompt is sent out-of-band from Messages.
	SystemPrompt string

	// Tools lists the callable tools. nil or empty means the model must
	// answer with text only.
	Tools []datatypes.ToolDefinition
}

// Usage reports provider-side token accounting when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a vendor-neutral model response.
type Response struct {
	ID         string                   `json:"id"`
	Model      string                   `json:"model"`
	Blocks     []datatypes.ContentBlock `json:"blocks"`
	StopReason string                   `json:"stop_reason"`
	Usage      Usage                    `json:"usage"`
}

// Provider is the language-model contract consumed by the orchestrator.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the backend, e.g. "anthropic".
	Name() string

	// Generate sends one request. Errors carrying an HTTP status should
	// be returned as *Error so retry classification can inspect them.
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)

	// ExtractToolCalls returns the tool_use blocks of resp in order.
	ExtractToolCalls(resp *Response) []datatypes.ToolCall

	// GetTextContent returns the concatenated text blocks of resp.
	GetTextContent(resp *Response) string
}

// ExtractToolCalls returns the tool calls carried by resp, in order.
func ExtractToolCalls(resp *Response) []datatypes.ToolCall {
	if resp == nil {
		return nil
	}
	var calls []datatypes.ToolCall
	for _, b := range resp.Blocks {
		if b.Type != datatypes.BlockToolUse {
			continue
		}
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		calls = append(calls, datatypes.ToolCall{ID: b.ID, Name: b.Name, Input: input})
	}
	return calls
}

// TextContent joins the text blocks of resp.
func TextContent(resp *Response) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Blocks {
		if b.Type == datatypes.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// blockParser gives adapters the shared response parsing.
type blockParser struct{}

func (blockParser) ExtractToolCalls(resp *Response) []datatypes.ToolCall {
	return ExtractToolCalls(resp)
}

func (blockParser) GetTextContent(resp *Response) string {
	return TextContent(resp)
}

// startSpan opens the per-call span shared by all adapters.
func startSpan(ctx context.Context, provider, model string, req GenerateRequest) (context.Context, trace.Span) {
	return tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", len(req.Messages)),
		attribute.Int("llm.num_tools", len(req.Tools)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	))
}

// endSpan records the outcome of a provider call on span.
func endSpan(span trace.Span, resp *Response, err error) {
	if err != nil {
		recordError(span, err)
		return
	}
	span.SetAttributes(
		attribute.String("llm.stop_reason", resp.StopReason),
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("llm.tool_calls", len(ExtractToolCalls(resp))),
	)
}
