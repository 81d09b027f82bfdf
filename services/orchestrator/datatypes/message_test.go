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

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_PlainTextContentIsJSONString(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "user", raw["role"])
	assert.Equal(t, "Hello", raw["content"])
}

func TestMessage_StructuredContentIsJSONArray(t *testing.T) {
	msg := NewBlockMessage(RoleAssistant, []ContentBlock{
		TextBlock("let me check"),
		ToolUseBlock(ToolCall{ID: "call_1", Name: "lookup", Input: map[string]any{"q": "x"}}),
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.IsStructured())
	require.Len(t, decoded.Blocks, 2)
	assert.Equal(t, BlockToolUse, decoded.Blocks[1].Type)
	assert.Equal(t, "call_1", decoded.Blocks[1].ID)
	assert.Equal(t, "x", decoded.Blocks[1].Input["q"])
	assert.Equal(t, "let me check", decoded.PlainText())
}

func TestMessage_EmptyBlockListStaysStructured(t *testing.T) {
	msg := NewBlockMessage(RoleUser, []ContentBlock{})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.IsStructured())
	assert.Empty(t, decoded.Blocks)
}

func TestMessage_ToolAccessorsPreserveOrder(t *testing.T) {
	msg := NewBlockMessage(RoleUser, []ContentBlock{
		ToolResultBlock(ToolResult{ToolCallID: "b", Content: "2", Success: true}),
		ToolResultBlock(ToolResult{ToolCallID: "a", Content: "1", Success: false}),
	})

	results := msg.ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ToolUseID)
	assert.Equal(t, "a", results[1].ToolUseID)
	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError)
	assert.Empty(t, msg.ToolUses())
}
