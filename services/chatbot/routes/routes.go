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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/conversation"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/handlers"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/session"
	"github.com/AleutianAI/AleutianConverse/services/index"
)

func SetupRoutes(
	router *gin.Engine,
	orch *conversation.Orchestrator,
	ingestor *index.Ingestor,
	ix *index.Index,
	sessions *session.Store,
) {
	router.GET("/health", handlers.HealthCheck(sessions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", handlers.HandleChat(orch))
		v1.POST("/documents", handlers.HandleIngest(ingestor))
		v1.GET("/documents", handlers.HandleIndexStats(ix))

		// Session administration routes
		sessionGroup := v1.Group("/sessions")
		{
			sessionGroup.GET("", handlers.ListSessions(sessions))
			sessionGroup.GET("/:userId/history", handlers.GetSessionHistory(sessions))
			sessionGroup.GET("/:userId/stats", handlers.GetSessionStats(sessions))
			sessionGroup.DELETE("/:userId", handlers.DeleteSession(sessions))
		}
	}
}
