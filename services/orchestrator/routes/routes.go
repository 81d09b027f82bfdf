// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
)

// Deps are the handlers mounted by SetupRoutes.
type Deps struct {
	Conversations *handlers.ConversationHandler

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", deps.Conversations.Create)
			conversations.GET("", deps.Conversations.List)
			conversations.GET("/:id", deps.Conversations.Get)
			conversations.POST("/:id/messages", deps.Conversations.SendMessage)
		}
	}
}
