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
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyCompleted is returned when a sub-conversation is completed twice.
var ErrAlreadyCompleted = errors.New("sub-conversation already completed")

// Conversation is the transcript of one chat session.
//
// # Description
//
// A Conversation is created once per session and only ever grows: messages,
// trace identifiers and sub-conversations are appended, never reordered or
// removed. Deleting a conversation is a persistence concern.
//
// # Fields
//
//   - ID: Stable identifier (UUID v4 unless supplied by the caller).
//   - Messages: Ordered transcript sent to the provider.
//   - TraceIDs: Trace identifiers of every successful SendMessage call.
//   - SubConversations: Completed analyses of oversized tool results.
//   - CreatedAt / UpdatedAt: UTC timestamps maintained by the append helpers.
//
// # Thread Safety
//
// Not safe for concurrent use. Callers serialize access per conversation.
type Conversation struct {
	ID               string            `json:"id"`
	Messages         []Message         `json:"messages"`
	TraceIDs         []string          `json:"trace_ids,omitempty"`
	SubConversations []SubConversation `json:"sub_conversations,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewConversation creates an empty conversation with a fresh UUID.
func NewConversation() *Conversation {
	return NewConversationWithID(uuid.NewString())
}

// NewConversationWithID creates an empty conversation with the given id.
func NewConversationWithID(id string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        id,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message to the transcript.
func (c *Conversation) AddMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
}

// AddSubConversation records a completed sub-conversation.
func (c *Conversation) AddSubConversation(sc SubConversation) {
	c.SubConversations = append(c.SubConversations, sc)
	c.UpdatedAt = time.Now().UTC()
}

// AddTraceID records the trace identifier of a call, skipping empty ids.
func (c *Conversation) AddTraceID(traceID string) {
	if traceID == "" {
		return
	}
	c.TraceIDs = append(c.TraceIDs, traceID)
}

// Checkpoint captures the current lengths of the append-only collections.
//
// Restore rolls the conversation back to a checkpoint. Together they allow a
// failed SendMessage to leave the conversation exactly as it found it.
type Checkpoint struct {
	messages         int
	traceIDs         int
	subConversations int
	updatedAt        time.Time
}

// Checkpoint returns a snapshot of the conversation's current extent.
func (c *Conversation) Checkpoint() Checkpoint {
	return Checkpoint{
		messages:         len(c.Messages),
		traceIDs:         len(c.TraceIDs),
		subConversations: len(c.SubConversations),
		updatedAt:        c.UpdatedAt,
	}
}

// Restore truncates every collection back to the checkpoint.
func (c *Conversation) Restore(cp Checkpoint) {
	if cp.messages <= len(c.Messages) {
		c.Messages = c.Messages[:cp.messages]
	}
	if cp.traceIDs <= len(c.TraceIDs) {
		c.TraceIDs = c.TraceIDs[:cp.traceIDs]
	}
	if cp.subConversations <= len(c.SubConversations) {
		c.SubConversations = c.SubConversations[:cp.subConversations]
	}
	c.UpdatedAt = cp.updatedAt
}

// SubConversation is an isolated, tool-free conversation spawned to analyze
// one oversized tool result.
//
// Lifecycle: created by the sub-conversation manager, completed exactly once
// before control returns to the orchestrator, then owned by its parent.
type SubConversation struct {
	ID           string     `json:"id"`
	ParentID     string     `json:"parent_id"`
	Purpose      string     `json:"purpose"`
	SystemPrompt string     `json:"system_prompt"`
	Messages     []Message  `json:"messages"`
	Summary      string     `json:"summary"`
	TokenCount   int        `json:"token_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewSubConversation creates a pending sub-conversation.
func NewSubConversation(parentID, purpose, systemPrompt string) *SubConversation {
	return &SubConversation{
		ID:           uuid.NewString(),
		ParentID:     parentID,
		Purpose:      purpose,
		SystemPrompt: systemPrompt,
		Messages:     []Message{},
		CreatedAt:    time.Now().UTC(),
	}
}

// AddMessage appends a message to the sub-conversation's private transcript.
func (s *SubConversation) AddMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
}

// IsCompleted reports whether Complete has been called.
func (s *SubConversation) IsCompleted() bool {
	return s.CompletedAt != nil
}

// Complete records the summary and completion time.
//
// Outputs:
//
//	error - ErrAlreadyCompleted on a second call; the first summary is kept.
func (s *SubConversation) Complete(summary string, at time.Time) error {
	if s.IsCompleted() {
		return ErrAlreadyCompleted
	}
	at = at.UTC()
	s.Summary = summary
	s.CompletedAt = &at
	return nil
}
