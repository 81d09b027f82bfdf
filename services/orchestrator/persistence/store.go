// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persistence stores conversations.
//
// Two backends are provided: MemoryStore for tests and single-process use,
// and BadgerStore for embedded on-disk storage. Neither ever deletes a
// conversation.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
)

// Sentinel errors for stores.
var (
	// ErrNotFound indicates no conversation exists with the requested id.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidConversation indicates a conversation without an id was saved.
	ErrInvalidConversation = errors.New("conversation has no id")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store is closed")
)

// Summary describes a stored conversation without loading its transcript.
type Summary struct {
	ID           string    `json:"id"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
}

// Store saves and loads conversations.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Save writes conv, replacing any previous version with the same id.
	Save(ctx context.Context, conv *datatypes.Conversation) error

	// Load returns the conversation with id, or ErrNotFound.
	Load(ctx context.Context, id string) (*datatypes.Conversation, error)

	// List returns summaries of every conversation, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	// Close releases resources held by the store.
	Close() error
}

func summaryOf(conv *datatypes.Conversation) Summary {
	return Summary{ID: conv.ID, LastUpdated: conv.UpdatedAt, MessageCount: len(conv.Messages)}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].LastUpdated.Equal(s[j].LastUpdated) {
			return s[i].ID < s[j].ID
		}
		return s[i].LastUpdated.After(s[j].LastUpdated)
	})
}

// MemoryStore keeps serialized conversations in a map.
//
// Conversations are stored as JSON so callers never share state with the
// store: mutating a loaded conversation does not change the stored copy.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	meta   map[string]Summary
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		meta: make(map[string]Summary),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, conv *datatypes.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv == nil || conv.ID == "" {
		return ErrInvalidConversation
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[conv.ID] = raw
	s.meta[conv.ID] = summaryOf(conv)
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, id string) (*datatypes.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.data[id]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var conv datatypes.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Summary, 0, len(s.meta))
	for _, m := range s.meta {
		out = append(out, m)
	}
	sortSummaries(out)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
