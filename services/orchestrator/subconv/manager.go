// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subconv offloads oversized tool output into isolated,
// tool-free sub-conversations and returns a compressed summary.
package subconv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/retry"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/tokens"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultThreshold is the tool result size, in estimated tokens, at
	// which results are offloaded.
	DefaultThreshold = 10000

	// CompressionRatio is the soft summarization target (original:summary).
	CompressionRatio = 10

	// MinSummaryTokens is the floor for the summary budget.
	MinSummaryTokens = 256

	// MaxSummaryTokens is the ceiling for the summary budget.
	MaxSummaryTokens = 4096
)

// Analysis stages reported in AnalysisError.
const (
	StageAnalysis      = "analysis"
	StageSummarization = "summarization"
	StageCompletion    = "completion"
)

// AnalysisSystemPrompt instructs faithful, structured extraction.
const AnalysisSystemPrompt = `You are a precise analysis assistant working on a single large tool output.
Extract the information that answers the request. Be faithful to the source:
do not invent facts, keep exact numbers, identifiers, names and dates, and
preserve the structure of lists and tables. If the content does not contain
the requested information, say so explicitly.`

// summaryPromptTemplate takes the target token count.
const summaryPromptTemplate = `Summarize the analysis below in at most about %d tokens
(roughly a 10:1 compression). Preserve every fact, number, identifier and the
overall structure. Do not add commentary or information that is not present.`

// ErrAnalysisFailed is matched by every AnalysisError.
var ErrAnalysisFailed = errors.New("sub-conversation analysis failed")

// AnalysisError reports a failed sub-conversation.
type AnalysisError struct {
	Stage             string
	SubConversationID string
	Err               error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("sub-conversation %s failed during %s: %v", e.SubConversationID, e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Is reports ErrAnalysisFailed as a match.
func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// ShouldOffload reports whether a result of tokenCount tokens must be
// offloaded. The boundary is inclusive.
func ShouldOffload(tokenCount, threshold int) bool {
	return tokenCount >= threshold
}

// FormatSummary renders the text that replaces an offloaded tool result.
func FormatSummary(sc *datatypes.SubConversation, originalTokens int) string {
	return fmt.Sprintf("[Sub-conversation %s] %s (original output ~%d tokens, summarized):\n%s",
		sc.ID, sc.Purpose, originalTokens, sc.Summary)
}

// Manager runs sub-conversations.
//
// Thread Safety: Manager is safe for concurrent use; each Analyze call
// owns its SubConversation.
type Manager struct {
	provider  llm.Provider
	counter   tokens.Counter
	retryCfg  retry.Config
	retryOpts []retry.Option
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRetry sets the retry policy used for provider calls.
func WithRetry(cfg retry.Config, opts ...retry.Option) Option {
	return func(m *Manager) {
		m.retryCfg = cfg
		m.retryOpts = opts
	}
}

// WithClock overrides the completion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager.
//
// Inputs:
//
//	provider - Model used for analysis and summarization. Must not be nil.
//	counter - Token counter for the sub-conversation's token_count.
//	opts - Optional tracer, logger, retry policy and clock.
func NewManager(provider llm.Provider, counter tokens.Counter, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		counter:  counter,
		retryCfg: retry.DefaultConfig(),
		tracer:   otel.Tracer("aleutian.orchestrator.subconv"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Analyze runs an isolated analysis of content and returns the completed
// sub-conversation.
//
// Description:
//
//	Creates a sub-conversation with AnalysisSystemPrompt, adds one user
//	message combining analysisPrompt and content, and asks the provider
//	for an analysis with no tools attached. The token count of the
//	sub-conversation's messages is recorded, then a second provider call
//	summarizes the analysis toward a 10:1 compression target. The
//	sub-conversation is completed with that summary.
//
//	Each provider call is wrapped in the Manager's retry policy; there is
//	no retry of the analysis as a whole.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	parentID - Owning conversation id.
//	content - The oversized tool output.
//	purpose - Human-readable reason for the offload.
//	analysisPrompt - What to extract from content.
//
// Outputs:
//
//	*datatypes.SubConversation - Completed sub-conversation.
//	error - *AnalysisError (matches ErrAnalysisFailed) on any failure.
func (m *Manager) Analyze(ctx context.Context, parentID, content, purpose, analysisPrompt string) (*datatypes.SubConversation, error) {
	sc := datatypes.NewSubConversation(parentID, purpose, AnalysisSystemPrompt)

	ctx, span := m.tracer.Start(ctx, "subconversation.analyze", trace.WithAttributes(
		attribute.String("subconversation.id", sc.ID),
		attribute.String("subconversation.parent_id", parentID),
		attribute.String("subconversation.purpose", purpose),
		attribute.Int("subconversation.content_bytes", len(content)),
	))
	defer span.End()

	fail := func(stage string, err error) (*datatypes.SubConversation, error) {
		aerr := &AnalysisError{Stage: stage, SubConversationID: sc.ID, Err: err}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, aerr.Error())
		m.logger.Error("Sub-conversation failed",
			slog.String("subconversation_id", sc.ID),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		return nil, aerr
	}

	sc.AddMessage(datatypes.NewTextMessage(datatypes.RoleUser,
		analysisPrompt+"\n\n<content>\n"+content+"\n</content>"))

	analysis, err := m.generate(ctx, llm.GenerateRequest{
		Messages:     sc.Messages,
		SystemPrompt: sc.SystemPrompt,
		Tools:        nil,
	})
	if err != nil {
		return fail(StageAnalysis, err)
	}
	sc.AddMessage(datatypes.NewTextMessage(datatypes.RoleAssistant, analysis))

	sc.TokenCount = m.counter.CountMessageTokens(sc.Messages)
	target := summaryTarget(sc.TokenCount)

	summary, err := m.generate(ctx, llm.GenerateRequest{
		Messages: []datatypes.Message{
			datatypes.NewTextMessage(datatypes.RoleUser, analysis),
		},
		SystemPrompt: fmt.Sprintf(summaryPromptTemplate, target),
		MaxTokens:    min(max(target*2, MinSummaryTokens), MaxSummaryTokens),
		Tools:        nil,
	})
	if err != nil {
		return fail(StageSummarization, err)
	}

	if err := sc.Complete(summary, m.now()); err != nil {
		return fail(StageCompletion, err)
	}

	span.SetAttributes(
		attribute.Int("subconversation.token_count", sc.TokenCount),
		attribute.Int("subconversation.summary_target_tokens", target),
		attribute.Int("subconversation.summary_tokens", m.counter.CountTokens(summary)),
	)
	m.logger.Info("Sub-conversation completed",
		slog.String("subconversation_id", sc.ID),
		slog.String("parent_id", parentID),
		slog.Int("token_count", sc.TokenCount),
		slog.Int("summary_tokens", m.counter.CountTokens(summary)),
	)
	return sc, nil
}

func (m *Manager) generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	opts := append([]retry.Option{retry.WithOperationName("subconversation.generate")}, m.retryOpts...)
	resp, err := retry.Do(ctx, m.retryCfg, func(ctx context.Context, attempt int) (*llm.Response, error) {
		resp, err := m.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, llm.ErrEmptyResponse
		}
		return resp, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	return m.provider.GetTextContent(resp), nil
}

func summaryTarget(tokenCount int) int {
	return max(tokenCount/CompressionRatio, MinSummaryTokens)
}
