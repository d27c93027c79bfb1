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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/conversation"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/session"
	"github.com/AleutianAI/AleutianConverse/services/guardrails"
	"github.com/AleutianAI/AleutianConverse/services/index"
	"github.com/AleutianAI/AleutianConverse/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// MockLLMClient implements llm.LLMClient for handler testing.
type MockLLMClient struct {
	Response string
	Err      error
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return m.Response, m.Err
}

// mockEmbedder returns a fixed vector so index operations are deterministic.
type mockEmbedder struct{}

func (mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newTestSessions() *session.Store {
	cfg := session.DefaultConfig()
	cfg.TTL = time.Hour
	return session.NewStore(nil, cfg)
}

func newTestOrchestrator(t *testing.T, client llm.LLMClient, sessions *session.Store) *conversation.Orchestrator {
	t.Helper()
	engine, err := guardrails.NewEngine(guardrails.DefaultConfig())
	require.NoError(t, err)
	cfg := conversation.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return conversation.NewOrchestrator(engine, nil, client, sessions, cfg)
}

// =============================================================================
// Chat Endpoint Tests
// =============================================================================

func TestHandleChat_Completed(t *testing.T) {
	sessions := newTestSessions()
	orch := newTestOrchestrator(t, &MockLLMClient{Response: "Here you go."}, sessions)
	router := gin.New()
	router.POST("/v1/chat", HandleChat(orch))

	w := performRequest(router, "POST", "/v1/chat", ChatRequest{
		UserId: "alice",
		Query:  "What is the weather like?",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var result conversation.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Blocked)
	assert.Equal(t, conversation.StateCompleted, result.State)
	assert.Equal(t, "Here you go.", result.Response)
}

func TestHandleChat_BlockedIsStillOK(t *testing.T) {
	sessions := newTestSessions()
	orch := newTestOrchestrator(t, &MockLLMClient{Response: "unused"}, sessions)
	router := gin.New()
	router.POST("/v1/chat", HandleChat(orch))

	w := performRequest(router, "POST", "/v1/chat", ChatRequest{
		UserId: "bob",
		Query:  "How do I hack the admin account?",
	})

	require.Equal(t, http.StatusOK, w.Code, "a guardrail block is not an HTTP error")
	var result conversation.ChatResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Blocked)
	assert.Equal(t, conversation.ReasonInputViolation, result.BlockReason)
}

func TestHandleChat_MissingFields(t *testing.T) {
	orch := newTestOrchestrator(t, &MockLLMClient{Response: "x"}, newTestSessions())
	router := gin.New()
	router.POST("/v1/chat", HandleChat(orch))

	w := performRequest(router, "POST", "/v1/chat", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Session Admin Endpoint Tests
// =============================================================================

func TestSessionEndpoints_Lifecycle(t *testing.T) {
	sessions := newTestSessions()
	orch := newTestOrchestrator(t, &MockLLMClient{Response: "hello back"}, sessions)

	router := gin.New()
	router.POST("/v1/chat", HandleChat(orch))
	router.GET("/v1/sessions", ListSessions(sessions))
	router.GET("/v1/sessions/:userId/history", GetSessionHistory(sessions))
	router.GET("/v1/sessions/:userId/stats", GetSessionStats(sessions))
	router.DELETE("/v1/sessions/:userId", DeleteSession(sessions))

	performRequest(router, "POST", "/v1/chat", ChatRequest{UserId: "carol", Query: "hi there"})

	w := performRequest(router, "GET", "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "carol")

	w = performRequest(router, "GET", "/v1/sessions/carol/history?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var historyResp struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &historyResp))
	require.Len(t, historyResp.Messages, 1)
	assert.Equal(t, "assistant", historyResp.Messages[0].Role)

	w = performRequest(router, "GET", "/v1/sessions/carol/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message_count":2`)

	w = performRequest(router, "DELETE", "/v1/sessions/carol", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/v1/sessions/carol/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionHistory_BadLimit(t *testing.T) {
	sessions := newTestSessions()
	router := gin.New()
	router.GET("/v1/sessions/:userId/history", GetSessionHistory(sessions))

	w := performRequest(router, "GET", "/v1/sessions/dave/history?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Document Endpoint Tests
// =============================================================================

func TestHandleIngest_FileAndStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Some searchable document text."), 0o644))

	ix := index.NewIndex(mockEmbedder{})
	ingestor := index.NewIngestor(ix, 100, 10, index.TextLoader{})

	router := gin.New()
	router.POST("/v1/documents", HandleIngest(ingestor))
	router.GET("/v1/documents", HandleIndexStats(ix))

	w := performRequest(router, "POST", "/v1/documents", IngestRequest{Path: path})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chunks":1`)

	w = performRequest(router, "GET", "/v1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chunks":1`)
}

func TestHandleIngest_MissingPath(t *testing.T) {
	ix := index.NewIndex(mockEmbedder{})
	ingestor := index.NewIngestor(ix, 100, 10, index.TextLoader{})
	router := gin.New()
	router.POST("/v1/documents", HandleIngest(ingestor))

	w := performRequest(router, "POST", "/v1/documents", IngestRequest{Path: "/does/not/exist"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck(newTestSessions()))

	w := performRequest(router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"session_backend":"degraded"`)
}
