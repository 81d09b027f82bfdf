// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the bounded tool-execution loop that drives a
// conversation between a user, a language model and a set of tools.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/retry"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/subconv"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tokens"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/window"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Store persists conversations after a successful turn.
//
// persistence.Store satisfies this interface.
type Store interface {
	Save(ctx context.Context, conv *datatypes.Conversation) error
}

// Orchestrator runs the tool loop.
//
// Thread Safety: An Orchestrator is safe for concurrent use across
// different conversations. Calls against the same Conversation must be
// serialized by the caller.
type Orchestrator struct {
	provider  llm.Provider
	registry  *tools.Registry
	store     Store
	counter   tokens.Counter
	subconv   *subconv.Manager
	cfg       Config
	retryCfg  retry.Config
	retryOpts []retry.Option
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the loop configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithStore sets the store saved to after every successful turn.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCounter sets the token counter used for offload decisions.
func WithCounter(c tokens.Counter) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.counter = c
		}
	}
}

// WithSubConversations sets the sub-conversation manager. By default one
// is built from the orchestrator's provider, counter, tracer and retry policy.
func WithSubConversations(m *subconv.Manager) Option {
	return func(o *Orchestrator) { o.subconv = m }
}

// WithRetry sets the retry policy wrapping every provider call.
func WithRetry(cfg retry.Config, opts ...retry.Option) Option {
	return func(o *Orchestrator) {
		o.retryCfg = cfg
		o.retryOpts = opts
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
//
// Inputs:
//
//	provider - Language model. Must not be nil.
//	registry - Tools offered to the model. Must not be nil; may be empty.
//	opts - Optional config, store, counter, tracer, logger and retry policy.
//
// Outputs:
//
//	*Orchestrator - Ready to use.
//	error - ErrInvalidConfig if the loop or retry configuration is invalid.
func New(provider llm.Provider, registry *tools.Registry, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrInvalidConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is nil", ErrInvalidConfig)
	}

	o := &Orchestrator{
		provider: provider,
		registry: registry,
		counter:  tokens.NewHeuristicEstimator(),
		cfg:      DefaultConfig(),
		retryCfg: retry.DefaultConfig(),
		tracer:   otel.Tracer("aleutian.orchestrator.agent"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := o.retryCfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if o.subconv == nil {
		o.subconv = subconv.NewManager(provider, o.counter,
			subconv.WithTracer(o.tracer),
			subconv.WithLogger(o.logger),
			subconv.WithRetry(o.retryCfg, o.retryOpts...),
		)
	}
	return o, nil
}

// Config returns the loop configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// SendMessage appends userText to conv and drives the tool loop until the
// model produces a final answer.
//
// Description:
//
//	Each iteration sends the windowed transcript, the system prompt and the
//	registry's tool schemas to the provider (wrapped in the retry policy).
//	A response without tool calls is the final answer: it is appended as
//	an assistant message, the trace id is recorded and the conversation is
//	saved exactly once. Otherwise the tool_use blocks are appended as an
//	assistant message, every call is executed, oversized results are
//	replaced by sub-conversation summaries, and all results are appended
//	as a single user message in call order.
//
//	On any failure the conversation is restored to its state at entry, so
//	no partial message, orphan tool_use block or sub-conversation is left
//	behind, and nothing is saved.
//
// Inputs:
//
//	ctx - Context for cancellation. Propagates into provider calls,
//	      backoff sleeps and tool handlers.
//	conv - Conversation to extend. Owned by this call until it returns.
//	userText - The user's message. Must not be blank.
//
// Outputs:
//
//	string - The assistant's final text.
//	error - ErrEmptyMessage, *ToolLoopExceededError, *subconv.AnalysisError,
//	        a provider error after retries, a context error, or an
//	        ErrPersistence-wrapped store error.
func (o *Orchestrator) SendMessage(ctx context.Context, conv *datatypes.Conversation, userText string) (answer string, err error) {
	if conv == nil {
		return "", ErrNilConversation
	}
	if strings.TrimSpace(userText) == "" {
		return "", ErrEmptyMessage
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.send_message", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int("conversation.messages", len(conv.Messages)),
		attribute.Int("orchestrator.max_iterations", o.cfg.MaxIterations),
		attribute.String("llm.provider", o.provider.Name()),
	))
	defer span.End()

	cp := conv.Checkpoint()
	var (
		iterations int
		toolCalls  int
	)
	defer func() {
		outcome := outcomeOf(err)
		span.SetAttributes(
			attribute.Int("orchestrator.iterations", iterations),
			attribute.Int("orchestrator.tool_calls", toolCalls),
			attribute.String("orchestrator.outcome", outcome),
		)
		if err != nil {
			conv.Restore(cp)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.Warn("SendMessage failed",
				slog.String("conversation_id", conv.ID),
				slog.Int("iterations", iterations),
				slog.String("outcome", outcome),
				slog.String("error", err.Error()),
			)
		}
		recordSendMetrics(ctx, time.Since(start), iterations, outcome)
	}()

	conv.AddMessage(datatypes.NewTextMessage(datatypes.RoleUser, userText))

	for iterations < o.cfg.MaxIterations {
		iterations++
		text, calls, done, iterErr := o.iterate(ctx, conv, iterations, userText)
		toolCalls += calls
		if iterErr != nil {
			return "", iterErr
		}
		if !done {
			continue
		}

		if sc := span.SpanContext(); sc.HasTraceID() {
			conv.AddTraceID(sc.TraceID().String())
		}
		if o.store != nil {
			if err := o.store.Save(ctx, conv); err != nil {
				return "", fmt.Errorf("%w: conversation %s: %w", ErrPersistence, conv.ID, err)
			}
		}
		o.logger.Info("SendMessage completed",
			slog.String("conversation_id", conv.ID),
			slog.Int("iterations", iterations),
			slog.Int("tool_calls", toolCalls),
			slog.Duration("duration", time.Since(start)),
		)
		return text, nil
	}

	return "", &ToolLoopExceededError{
		ConversationID: conv.ID,
		MaxIterations:  o.cfg.MaxIterations,
		ToolCalls:      toolCalls,
	}
}

// iterate performs one provider round trip and, if requested, one tool
// round. done is true when the response carried no tool calls.
func (o *Orchestrator) iterate(ctx context.Context, conv *datatypes.Conversation, iteration int, userText string) (text string, calls int, done bool, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.iteration", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", 0, false, err
	}

	info := window.Info(conv.Messages, o.cfg.MaxContextMessages)
	span.SetAttributes(info.Attributes()...)
	windowed, truncated := window.Truncate(conv.Messages, o.cfg.MaxContextMessages)
	if truncated {
		o.logger.Debug("Context window truncated",
			slog.String("conversation_id", conv.ID),
			slog.Int("total", info.Total),
			slog.Int("dropped", info.Dropped),
		)
	}

	if o.logger.Enabled(ctx, slog.LevelDebug) {
		if perr := datatypes.ValidateToolPairing(windowed); perr != nil {
			o.logger.Debug("Tool pairing violated in outgoing context",
				slog.String("conversation_id", conv.ID),
				slog.String("error", perr.Error()),
			)
		}
	}

	resp, err := o.generate(ctx, llm.GenerateRequest{
		Messages:     windowed,
		MaxTokens:    o.cfg.MaxTokens,
		SystemPrompt: o.cfg.SystemPrompt,
		Tools:        o.registry.FormatForProvider(),
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("provider %s: %w", o.provider.Name(), err)
	}

	toolCalls := o.provider.ExtractToolCalls(resp)
	span.SetAttributes(
		attribute.Int("tool_calls", len(toolCalls)),
		attribute.String("llm.stop_reason", resp.StopReason),
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)

	if len(toolCalls) == 0 {
		text := o.provider.GetTextContent(resp)
		conv.AddMessage(datatypes.NewTextMessage(datatypes.RoleAssistant, text))
		return text, 0, true, nil
	}

	conv.AddMessage(datatypes.NewBlockMessage(datatypes.RoleAssistant, assistantBlocks(resp, toolCalls)))

	results, subs, err := o.executeTools(ctx, conv.ID, toolCalls, userText)
	if err != nil {
		return "", len(toolCalls), false, err
	}
	for _, sc := range subs {
		if sc != nil {
			conv.AddSubConversation(*sc)
		}
	}

	blocks := make([]datatypes.ContentBlock, len(results))
	for i, r := range results {
		blocks[i] = datatypes.ToolResultBlock(r)
	}
	conv.AddMessage(datatypes.NewBlockMessage(datatypes.RoleUser, blocks))

	return "", len(toolCalls), false, nil
}

// assistantBlocks keeps the response's text in place and rebuilds every
// tool_use block from the extracted calls so ids and inputs match what
// is executed.
func assistantBlocks(resp *llm.Response, calls []datatypes.ToolCall) []datatypes.ContentBlock {
	blocks := make([]datatypes.ContentBlock, 0, len(resp.Blocks))
	next := 0
	for _, b := range resp.Blocks {
		switch b.Type {
		case datatypes.BlockText:
			if b.Text != "" {
				blocks = append(blocks, b)
			}
		case datatypes.BlockToolUse:
			if next < len(calls) {
				blocks = append(blocks, datatypes.ToolUseBlock(calls[next]))
				next++
			}
		}
	}
	for ; next < len(calls); next++ {
		blocks = append(blocks, datatypes.ToolUseBlock(calls[next]))
	}
	return blocks
}

func (o *Orchestrator) generate(ctx context.Context, req llm.GenerateRequest) (*llm.Response, error) {
	opts := append([]retry.Option{
		retry.WithOperationName("orchestrator.generate"),
		retry.WithTracer(o.tracer),
		retry.WithObserver(attemptObserver(ctx)),
	}, o.retryOpts...)

	return retry.Do(ctx, o.retryCfg, func(ctx context.Context, attempt int) (*llm.Response, error) {
		resp, err := o.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, llm.ErrEmptyResponse
		}
		return resp, nil
	}, opts...)
}

// executeTools runs calls and returns results and sub-conversations in
// call order. subs[i] is nil when result i was not offloaded.
func (o *Orchestrator) executeTools(ctx context.Context, parentID string, calls []datatypes.ToolCall, userText string) ([]datatypes.ToolResult, []*datatypes.SubConversation, error) {
	results := make([]datatypes.ToolResult, len(calls))
	subs := make([]*datatypes.SubConversation, len(calls))

	if !o.cfg.ParallelTools || len(calls) == 1 {
		for i, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			r, sc, err := o.runTool(ctx, parentID, call, userText)
			if err != nil {
				return nil, nil, err
			}
			results[i], subs[i] = r, sc
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			g.Go(func() error {
				r, sc, err := o.runTool(gctx, parentID, call, userText)
				if err != nil {
					return err
				}
				results[i], subs[i] = r, sc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	// A cancelled context turns handler results into timeouts; surface the
	// cancellation instead of feeding those results back to the model.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return results, subs, nil
}

// runTool executes one call and offloads its result when it is too large.
func (o *Orchestrator) runTool(ctx context.Context, parentID string, call datatypes.ToolCall, userText string) (datatypes.ToolResult, *datatypes.SubConversation, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	result := o.registry.Execute(ctx, call)
	tokenCount := o.counter.CountTokens(result.Content)
	span.SetAttributes(
		attribute.Bool("tool.success", result.Success),
		attribute.Int("tool.result_tokens", tokenCount),
	)

	if !subconv.ShouldOffload(tokenCount, o.cfg.SubConversationThreshold) {
		span.SetAttributes(attribute.Bool("tool.offloaded", false))
		recordToolMetrics(ctx, call.Name, result.Success, false)
		return result, nil, nil
	}

	o.logger.Info("Offloading tool result to sub-conversation",
		slog.String("conversation_id", parentID),
		slog.String("tool", call.Name),
		slog.Int("tokens", tokenCount),
		slog.Int("threshold", o.cfg.SubConversationThreshold),
	)

	sc, err := o.subconv.Analyze(ctx, parentID, result.Content,
		fmt.Sprintf("Analyze %s output", call.Name),
		analysisPrompt(call, userText),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return datatypes.ToolResult{}, nil, fmt.Errorf("offloading %s result: %w", call.Name, err)
	}

	result.Content = subconv.FormatSummary(sc, tokenCount)
	result.SetMeta(datatypes.MetaSubConversationID, sc.ID)
	result.SetMeta(datatypes.MetaOriginalTokens, tokenCount)
	result.SetMeta(datatypes.MetaSummaryTokens, o.counter.CountTokens(sc.Summary))

	span.SetAttributes(
		attribute.Bool("tool.offloaded", true),
		attribute.String("subconversation.id", sc.ID),
	)
	recordToolMetrics(ctx, call.Name, result.Success, true)
	return result, sc, nil
}

// analysisPrompt asks the sub-conversation for what the user needs from
// the tool's output.
func analysisPrompt(call datatypes.ToolCall, userText string) string {
	input, err := json.Marshal(call.Input)
	if err != nil || len(input) == 0 {
		input = []byte("{}")
	}
	return fmt.Sprintf("The user asked:\n%s\n\nThe tool %q was called with input %s and returned the content below. "+
		"Extract everything in it that is relevant to the user's request.", userText, call.Name, input)
}

// IsLoopExceeded reports whether err is a ToolLoopExceededError.
func IsLoopExceeded(err error) bool {
	return errors.Is(err, ErrToolLoopExceeded)
}
