// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
)

// ErrScriptExhausted is returned when Generate is called more times than
// the script has steps and no fallback is set.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted reply. Exactly one of Response and Err is used.
type Step struct {
	Response *llm.Response
	Err      error
}

// Text returns a step replying with plain text.
func Text(text string) Step {
	return Step{Response: &llm.Response{
		ID:         "resp_text",
		StopReason: "end_turn",
		Blocks:     []datatypes.ContentBlock{datatypes.TextBlock(text)},
	}}
}

// ToolUse returns a step requesting the given tool calls, in order.
func ToolUse(calls ...datatypes.ToolCall) Step {
	blocks := make([]datatypes.ContentBlock, 0, len(calls))
	for _, c := range calls {
		blocks = append(blocks, datatypes.ToolUseBlock(c))
	}
	return Step{Response: &llm.Response{ID: "resp_tool", StopReason: "tool_use", Blocks: blocks}}
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Provider replays a script of responses and records every request.
//
// Thread Safety: Provider is safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	fallback func(call int, req llm.GenerateRequest) Step
	requests []llm.GenerateRequest
}

// New creates a provider that replays steps in order.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// NewFunc creates a provider whose replies are computed per call. call is
// 1-based.
func NewFunc(fn func(call int, req llm.GenerateRequest) Step) *Provider {
	return &Provider{fallback: fn}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "scripted" }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.Response, error) {
	p.mu.Lock()
	// Snapshot the slice so later appends by the caller are not observed.
	req.Messages = append([]datatypes.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	call := len(p.requests)

	var step Step
	switch {
	case call <= len(p.steps):
		step = p.steps[call-1]
	case p.fallback != nil:
		step = p.fallback(call, req)
	default:
		p.mu.Unlock()
		return nil, fmt.Errorf("%w after %d calls", ErrScriptExhausted, len(p.steps))
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// ExtractToolCalls implements llm.Provider.
func (p *Provider) ExtractToolCalls(resp *llm.Response) []datatypes.ToolCall {
	return llm.ExtractToolCalls(resp)
}

// GetTextContent implements llm.Provider.
func (p *Provider) GetTextContent(resp *llm.Response) string {
	return llm.TextContent(resp)
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.GenerateRequest(nil), p.requests...)
}

// Calls returns the number of Generate calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

var _ llm.Provider = (*Provider)(nil)
