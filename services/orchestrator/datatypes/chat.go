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
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Request Types
// =============================================================================

// SendMessageRequest is the body of POST /v1/conversations/:id/messages.
//
// # Description
//
// Carries one user turn. The orchestrator appends it to the conversation and
// runs the tool loop until the provider produces a terminal text response.
//
// # Validation
//
//   - Message: required, at most 32KB
type SendMessageRequest struct {
	Message string `json:"message" validate:"required,maxbytes"`
}

// Validate validates the request using go-playground/validator tags.
func (r *SendMessageRequest) Validate() error {
	return chatValidate.Struct(r)
}

// CreateConversationRequest is the optional body of POST /v1/conversations.
//
// ID may be supplied by the client; otherwise a UUID is generated.
type CreateConversationRequest struct {
	ID string `json:"id,omitempty" validate:"omitempty,max=128,excludesall= /"`
}

// Validate validates the request using go-playground/validator tags.
func (r *CreateConversationRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// SendMessageResponse is returned after a successful tool loop.
type SendMessageResponse struct {
	ResponseID       string `json:"response_id"`
	ConversationID   string `json:"conversation_id"`
	Timestamp        int64  `json:"timestamp"`
	Answer           string `json:"answer"`
	MessageCount     int    `json:"message_count"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// NewSendMessageResponse creates a response with a generated id and timestamp.
func NewSendMessageResponse(conv *Conversation, answer string, elapsed time.Duration) *SendMessageResponse {
	return &SendMessageResponse{
		ResponseID:       uuid.NewString(),
		ConversationID:   conv.ID,
		Timestamp:        time.Now().UnixMilli(),
		Answer:           answer,
		MessageCount:     len(conv.Messages),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

// ErrorResponse is the JSON body for failed requests.
//
// Error carries a stable code; Message is safe to show to end users and never
// includes provider payloads or stack traces.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
