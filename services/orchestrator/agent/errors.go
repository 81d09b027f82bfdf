// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/subconv"
)

// Sentinel errors for the orchestrator.
var (
	// ErrToolLoopExceeded is matched by every ToolLoopExceededError.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")

	// ErrEmptyMessage indicates SendMessage was called with blank text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrNilConversation indicates SendMessage was called without a conversation.
	ErrNilConversation = errors.New("conversation is nil")

	// ErrInvalidConfig indicates the orchestrator configuration failed validation.
	ErrInvalidConfig = errors.New("invalid orchestrator config")

	// ErrPersistence wraps failures of the conversation store.
	ErrPersistence = errors.New("conversation persistence failed")
)

// ToolLoopExceededError reports that the provider kept requesting tools
// for MaxIterations rounds without producing a final answer. It is fatal
// and never retried.
type ToolLoopExceededError struct {
	ConversationID string
	MaxIterations  int
	ToolCalls      int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("conversation %s: no final response after %d iterations (%d tool calls)",
		e.ConversationID, e.MaxIterations, e.ToolCalls)
}

// Is reports ErrToolLoopExceeded as a match.
func (e *ToolLoopExceededError) Is(target error) bool { return target == ErrToolLoopExceeded }

// Outcome labels used on metrics and logs.
const (
	outcomeSuccess         = "success"
	outcomeLoopExceeded    = "loop_exceeded"
	outcomeSubConversation = "subconversation_error"
	outcomeCanceled        = "canceled"
	outcomeTimeout         = "timeout"
	outcomePersistence     = "persistence_error"
	outcomeProvider        = "provider_error"
	outcomeInvalid         = "invalid_request"
)

// outcomeOf classifies err for metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrToolLoopExceeded):
		return outcomeLoopExceeded
	case errors.Is(err, subconv.ErrAnalysisFailed):
		return outcomeSubConversation
	case errors.Is(err, ErrPersistence):
		return outcomePersistence
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrNilConversation):
		return outcomeInvalid
	default:
		return outcomeProvider
	}
}
