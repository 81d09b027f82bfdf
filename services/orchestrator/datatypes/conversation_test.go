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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_CheckpointRestore(t *testing.T) {
	// Arrange
	conv := NewConversation()
	conv.AddMessage(NewTextMessage(RoleUser, "first"))
	conv.AddTraceID("trace-1")
	cp := conv.Checkpoint()

	// Act
	conv.AddMessage(NewTextMessage(RoleUser, "second"))
	conv.AddMessage(NewTextMessage(RoleAssistant, "reply"))
	conv.AddTraceID("trace-2")
	conv.AddSubConversation(*NewSubConversation(conv.ID, "p", "s"))
	conv.Restore(cp)

	// Assert
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "first", conv.Messages[0].Text)
	assert.Equal(t, []string{"trace-1"}, conv.TraceIDs)
	assert.Empty(t, conv.SubConversations)
}

func TestConversation_AddTraceIDSkipsEmpty(t *testing.T) {
	conv := NewConversation()
	conv.AddTraceID("")
	assert.Empty(t, conv.TraceIDs)
}

func TestConversation_JSONRoundTripKeepsOrder(t *testing.T) {
	conv := NewConversationWithID("conv-1")
	conv.AddMessage(NewTextMessage(RoleUser, "one"))
	conv.AddMessage(NewTextMessage(RoleAssistant, "two"))
	conv.AddMessage(NewTextMessage(RoleUser, "three"))

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	var decoded Conversation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "conv-1", decoded.ID)
	require.Len(t, decoded.Messages, 3)
	assert.Equal(t, "one", decoded.Messages[0].Text)
	assert.Equal(t, RoleAssistant, decoded.Messages[1].Role)
	assert.Equal(t, "three", decoded.Messages[2].Text)
}

func TestSubConversation_CompleteOnce(t *testing.T) {
	sc := NewSubConversation("parent", "analyze output", "system")
	assert.False(t, sc.IsCompleted())

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, sc.Complete("summary one", at))
	assert.True(t, sc.IsCompleted())
	assert.Equal(t, at, *sc.CompletedAt)

	err := sc.Complete("summary two", at.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
	assert.Equal(t, "summary one", sc.Summary)
}
