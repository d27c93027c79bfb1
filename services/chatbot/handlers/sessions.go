// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/session"
)

// ListSessions enumerates users with a live session plus the store's
// persistence mode.
func ListSessions(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"users":   sessions.ActiveUsers(),
			"backend": sessions.Backend(),
		})
	}
}

// GetSessionHistory returns a user's messages, newest last. An optional
// ?limit=N query keeps only the most recent N.
func GetSessionHistory(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Param("userId")
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		history := sessions.History(c.Request.Context(), userId, limit)
		c.JSON(http.StatusOK, gin.H{"user_id": userId, "messages": history})
	}
}

// GetSessionStats returns the summary record for one user's session.
func GetSessionStats(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Param("userId")
		stats, ok := sessions.Stats(c.Request.Context(), userId)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for user"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// DeleteSession expires a user's session immediately.
func DeleteSession(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Param("userId")
		sessions.Expire(c.Request.Context(), userId)
		c.JSON(http.StatusOK, gin.H{"user_id": userId, "expired": true})
	}
}
