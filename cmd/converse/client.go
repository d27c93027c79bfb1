// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatResponse mirrors the service's chat response shape.
type ChatResponse struct {
	Response       string `json:"response"`
	Blocked        bool   `json:"blocked"`
	BlockReason    string `json:"block_reason"`
	SessionBackend string `json:"session_backend"`
	State          string `json:"state"`
	Sources        []struct {
		ChunkId  string  `json:"chunk_id"`
		Filename string  `json:"filename"`
		Score    float64 `json:"score"`
	} `json:"sources"`
}

// HistoryResponse mirrors the session history admin endpoint.
type HistoryResponse struct {
	UserId   string `json:"user_id"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// StatsResponse mirrors the session stats admin endpoint.
type StatsResponse struct {
	SessionId      string        `json:"session_id"`
	MessageCount   int           `json:"message_count"`
	TTLRemaining   time.Duration `json:"ttl_remaining"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

// APIClient talks to the chatbot service over HTTP.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Chat sends one turn and returns the full response shape, including blocks.
func (c *APIClient) Chat(ctx context.Context, userId, query string) (*ChatResponse, error) {
	payload, err := json.Marshal(map[string]string{"user_id": userId, "query": query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out ChatResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the most recent messages for a user.
func (c *APIClient) History(ctx context.Context, userId string, limit int) (*HistoryResponse, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/history", c.baseURL, userId)
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var out HistoryResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches the session summary for a user.
func (c *APIClient) Stats(ctx context.Context, userId string) (*StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/sessions/%s/stats", c.baseURL, userId), nil)
	if err != nil {
		return nil, err
	}
	var out StatsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Expire deletes the user's session on the server.
func (c *APIClient) Expire(ctx context.Context, userId string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/v1/sessions/%s", c.baseURL, userId), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
