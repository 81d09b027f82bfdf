// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the agent service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/llm"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/subconv"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var handlerTracer = otel.Tracer("aleutian.orchestrator.handlers")

// MessageSender runs one user turn. *agent.Orchestrator satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, conv *datatypes.Conversation, userText string) (string, error)
}

// ConversationHandler serves the /v1/conversations endpoints.
//
// # Thread Safety
//
// Safe for concurrent use. Turns on the same conversation are serialized
// by a per-id lock; different conversations proceed in parallel.
type ConversationHandler struct {
	store          persistence.Store
	sender         MessageSender
	metrics        *observability.ChatMetrics
	locks          *keyedLock
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewConversationHandler creates a handler.
//
// Inputs:
//
//	store - Conversation store.
//	sender - Runs the tool loop.
//	metrics - HTTP metrics. If nil, metrics are not recorded.
//	requestTimeout - Bound for one SendMessage call. Zero means no bound.
//	logger - If nil, uses slog.Default().
func NewConversationHandler(store persistence.Store, sender MessageSender, metrics *observability.ChatMetrics,
	requestTimeout time.Duration, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{
		store:          store,
		sender:         sender,
		metrics:        metrics,
		locks:          newKeyedLock(),
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// =============================================================================
// Endpoints
// =============================================================================

// Create handles POST /v1/conversations. The body is optional.
func (h *ConversationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	var req datatypes.CreateConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, observability.EndpointCreateConversation, http.StatusBadRequest,
				observability.ErrorCodeValidation, "invalid request body")
			return
		}
	}
	if err := req.Validate(); err != nil {
		h.fail(c, observability.EndpointCreateConversation, http.StatusBadRequest,
			observability.ErrorCodeValidation, err.Error())
		return
	}

	conv := datatypes.NewConversation()
	if req.ID != "" {
		if _, err := h.store.Load(ctx, req.ID); err == nil {
			h.fail(c, observability.EndpointCreateConversation, http.StatusConflict,
				observability.ErrorCodeValidation, "conversation already exists")
			return
		} else if !errors.Is(err, persistence.ErrNotFound) {
			h.internal(c, observability.EndpointCreateConversation, err)
			return
		}
		conv = datatypes.NewConversationWithID(req.ID)
	}

	if err := h.store.Save(ctx, conv); err != nil {
		h.internal(c, observability.EndpointCreateConversation, err)
		return
	}
	h.logger.Info("conversation created", slog.String("conversation_id", conv.ID))
	h.succeed(observability.EndpointCreateConversation)
	c.JSON(http.StatusCreated, conv)
}

// List handles GET /v1/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	summaries, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internal(c, observability.EndpointListConversations, err)
		return
	}
	h.succeed(observability.EndpointListConversations)
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// Get handles GET /v1/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.store.Load(c.Request.Context(), c.Param("id"))
	if errors.Is(err, persistence.ErrNotFound) {
		h.fail(c, observability.EndpointGetConversation, http.StatusNotFound,
			observability.ErrorCodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.internal(c, observability.EndpointGetConversation, err)
		return
	}
	h.succeed(observability.EndpointGetConversation)
	c.JSON(http.StatusOK, conv)
}

// SendMessage handles POST /v1/conversations/:id/messages.
//
// The conversation is loaded under its lock, so a turn always starts from
// the state the previous turn persisted. On failure nothing is saved.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	const endpoint = observability.EndpointSendMessage
	id := c.Param("id")

	ctx, span := handlerTracer.Start(c.Request.Context(), "handlers.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", id))

	var req datatypes.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, endpoint, http.StatusBadRequest, observability.ErrorCodeValidation, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, endpoint, http.StatusBadRequest, observability.ErrorCodeValidation, err.Error())
		return
	}

	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	waitStart := time.Now()
	unlock, err := h.locks.Lock(ctx, id)
	if h.metrics != nil {
		h.metrics.RecordLockWait(time.Since(waitStart).Seconds())
	}
	if err != nil {
		h.fail(c, endpoint, http.StatusGatewayTimeout, observability.ErrorCodeTimeout,
			"timed out waiting for the conversation")
		return
	}
	defer unlock()

	conv, err := h.store.Load(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		h.fail(c, endpoint, http.StatusNotFound, observability.ErrorCodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.internal(c, endpoint, err)
		return
	}

	if h.metrics != nil {
		h.metrics.TurnStarted()
	}
	start := time.Now()
	answer, err := h.sender.SendMessage(ctx, conv, req.Message)
	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.TurnEnded(elapsed.Seconds(), err == nil)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status, code, message := classifyTurnError(err)
		h.logger.Error("turn failed",
			slog.String("conversation_id", id),
			slog.String("error_code", string(code)),
			slog.String("error", err.Error()))
		h.fail(c, endpoint, status, code, message)
		return
	}

	h.succeed(endpoint)
	c.JSON(http.StatusOK, datatypes.NewSendMessageResponse(conv, answer, elapsed))
}

// =============================================================================
// Error Mapping
// =============================================================================

// classifyTurnError maps a SendMessage failure to an HTTP status, a metric
// code and a client-safe message.
func classifyTurnError(err error) (int, observability.ErrorCode, string) {
	var llmErr *llm.Error
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest, observability.ErrorCodeValidation, "message is empty"
	case errors.Is(err, agent.ErrToolLoopExceeded):
		return http.StatusUnprocessableEntity, observability.ErrorCodeLoopExceeded,
			"the model did not produce a final answer within the iteration limit"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, observability.ErrorCodeTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, observability.ErrorCodeTimeout, "request canceled"
	case errors.Is(err, subconv.ErrAnalysisFailed):
		return http.StatusBadGateway, observability.ErrorCodeSubConversation, "tool output analysis failed"
	case errors.Is(err, agent.ErrPersistence):
		return http.StatusInternalServerError, observability.ErrorCodePersistence, "failed to save the conversation"
	case errors.As(err, &llmErr), errors.Is(err, llm.ErrEmptyResponse), errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusBadGateway, observability.ErrorCodeLLMError, "language model request failed"
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal, "internal error"
	}
}

func (h *ConversationHandler) succeed(endpoint observability.Endpoint) {
	if h.metrics != nil {
		h.metrics.RecordRequest(endpoint, true)
	}
}

func (h *ConversationHandler) fail(c *gin.Context, endpoint observability.Endpoint, status int,
	code observability.ErrorCode, message string) {
	if h.metrics != nil {
		h.metrics.RecordRequest(endpoint, false)
		h.metrics.RecordError(endpoint, code)
	}
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: string(code), Message: message})
}

func (h *ConversationHandler) internal(c *gin.Context, endpoint observability.Endpoint, err error) {
	h.logger.Error("request failed", slog.String("endpoint", string(endpoint)), slog.String("error", err.Error()))
	h.fail(c, endpoint, http.StatusInternalServerError, observability.ErrorCodeInternal, "internal error")
}
