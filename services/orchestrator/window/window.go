// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package window bounds the message history sent to a provider.
//
// The window is count-based. It has no notion of token cost; oversized
// content is handled by sub-conversation offload instead.
package window

import (
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel/attribute"
)

// Truncate returns the most recent messages that fit in the window.
//
// Description:
//
//	If len(messages) <= maxMessages the input is returned unchanged.
//	Otherwise exactly the last maxMessages entries are returned in
//	original order. A maxMessages of zero or less disables the window.
//	The returned slice shares its backing array with the input.
//
// Inputs:
//
//	messages - Full conversation history, oldest first.
//	maxMessages - Window size.
//
// Outputs:
//
//	[]datatypes.Message - The bounded slice.
//	bool - True if any messages were dropped.
func Truncate(messages []datatypes.Message, maxMessages int) ([]datatypes.Message, bool) {
	if maxMessages <= 0 || len(messages) <= maxMessages {
		return messages, false
	}
	return messages[len(messages)-maxMessages:], true
}

// ContextInfo describes how the window applies to a history.
type ContextInfo struct {
	Total         int  `json:"total"`
	Limit         int  `json:"limit"`
	WouldTruncate bool `json:"would_truncate"`
	Dropped       int  `json:"dropped"`
}

// Info reports window statistics for tracing. It does not modify messages.
func Info(messages []datatypes.Message, maxMessages int) ContextInfo {
	info := ContextInfo{Total: len(messages), Limit: maxMessages}
	if maxMessages > 0 && len(messages) > maxMessages {
		info.WouldTruncate = true
		info.Dropped = len(messages) - maxMessages
	}
	return info
}

// Attributes renders the info as span attributes.
func (c ContextInfo) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("context.total_messages", c.Total),
		attribute.Int("context.max_messages", c.Limit),
		attribute.Bool("context.truncated", c.WouldTruncate),
		attribute.Int("context.dropped_messages", c.Dropped),
	}
}
