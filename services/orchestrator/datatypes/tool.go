// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Metadata keys written into ToolResult.Metadata.
const (
	MetaErrorType         = "error_type"
	MetaErrorMessage      = "error_message"
	MetaExceptionType     = "exception_type"
	MetaResultType        = "result_type"
	MetaToolName          = "tool_name"
	MetaDurationMs        = "duration_ms"
	MetaSubConversationID = "subconversation_id"
	MetaOriginalTokens    = "original_tokens"
	MetaSummaryTokens     = "summary_tokens"
)

// Values for MetaErrorType.
const (
	ErrorTypeToolNotFound  = "tool_not_found"
	ErrorTypeInvalidInput  = "invalid_input"
	ErrorTypeToolExecution = "tool_execution_error"
	ErrorTypeTimeout       = "timeout"
)

// ToolCall is a structured request from the provider to invoke a tool.
//
// ToolCalls are parsed from provider responses and are never persisted
// on their own; the tool_use block of the assistant message carries them.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	// ToolCallID correlates the result with its ToolCall.
	ToolCallID string `json:"tool_call_id"`

	// Content is the text returned to the provider. It may be replaced by a
	// sub-conversation summary when the raw output is too large.
	Content string `json:"content"`

	// Success is false for unknown tools, invalid input and handler failures.
	Success bool `json:"success"`

	// Metadata holds free-form details such as error_type or
	// subconversation_id.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SetMeta writes a metadata entry, allocating the map on first use.
func (r *ToolResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// ToolDefinition is the provider-facing description of a registered tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
