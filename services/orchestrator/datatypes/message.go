// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the value objects shared by the orchestration core.
//
// # Description
//
// The types in this package describe a conversation transcript in a
// vendor-neutral way: messages are either plain text or an ordered list of
// typed content blocks (text, tool_use, tool_result). LLM adapters in
// services/llm translate these to and from their wire formats; the core never
// sees a vendor payload.
//
// # Thread Safety
//
// Values in this package are not synchronized. A Conversation is owned by the
// single in-flight SendMessage call operating on it.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message in the transcript.
type Role string

const (
	// RoleUser marks messages authored by the user, including tool results.
	RoleUser Role = "user"

	// RoleAssistant marks messages produced by the provider.
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed element of a structured message.
//
// Only the fields relevant to Type are populated:
//
//	text        - Text
//	tool_use    - ID, Name, Input
//	tool_result - ToolUseID, Content, IsError
type ContentBlock struct {
	Type      BlockType      `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use block from a parsed tool call.
func ToolUseBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Name, Input: call.Input}
}

// ToolResultBlock builds a tool_result block from an executed tool result.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: result.ToolCallID,
		Content:   result.Content,
		IsError:   !result.Success,
	}
}

// Message is one entry of a conversation transcript.
//
// Description:
//
//	A message carries either plain text (Blocks == nil) or an ordered list
//	of content blocks. Insertion order within a conversation is the order
//	in which messages are sent to the provider.
//
// JSON:
//
//	The "content" field is a string for plain text messages and an array
//	of blocks for structured messages, matching common provider formats.
type Message struct {
	Role      Role
	Text      string
	Blocks    []ContentBlock
	Timestamp time.Time
}

// NewTextMessage creates a plain text message stamped with the current time.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text, Timestamp: time.Now().UTC()}
}

// NewBlockMessage creates a structured message stamped with the current time.
func NewBlockMessage(role Role, blocks []ContentBlock) Message {
	return Message{Role: role, Blocks: blocks, Timestamp: time.Now().UTC()}
}

// IsStructured reports whether the message carries content blocks.
func (m Message) IsStructured() bool {
	return m.Blocks != nil
}

// PlainText returns the textual content of the message.
//
// For structured messages the text blocks are concatenated in order;
// tool_use and tool_result blocks are skipped.
func (m Message) PlainText() string {
	if !m.IsStructured() {
		return m.Text
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	return m.blocksOfType(BlockToolUse)
}

// ToolResults returns the tool_result blocks of the message in order.
func (m Message) ToolResults() []ContentBlock {
	return m.blocksOfType(BlockToolResult)
}

func (m Message) blocksOfType(t BlockType) []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}

type messageJSON struct {
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON encodes content as a string or as a block array.
func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if m.IsStructured() {
		content, err = json.Marshal(m.Blocks)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal message content: %w", err)
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: content, Timestamp: m.Timestamp})
}

// UnmarshalJSON accepts content as either a string or a block array.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Timestamp = raw.Timestamp
	m.Text = ""
	m.Blocks = nil

	trimmed := strings.TrimSpace(string(raw.Content))
	switch {
	case trimmed == "" || trimmed == "null":
		return nil
	case strings.HasPrefix(trimmed, "["):
		blocks := []ContentBlock{}
		if err := json.Unmarshal(raw.Content, &blocks); err != nil {
			return fmt.Errorf("unmarshal message blocks: %w", err)
		}
		m.Blocks = blocks
	default:
		if err := json.Unmarshal(raw.Content, &m.Text); err != nil {
			return fmt.Errorf("unmarshal message text: %w", err)
		}
	}
	return nil
}
