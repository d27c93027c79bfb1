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

import "time"

// Message roles. Only users and the assistant write into a session.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn entry. Messages are immutable once
// appended to a session.
type Message struct {
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	Sources           []string  `json:"sources,omitempty"`
	RedactionsApplied bool      `json:"redactions_applied,omitempty"`
}

// Session is one user's multi-turn conversation record. The Messages slice
// is append-only and ordered by timestamp; mutation happens only through the
// session store, which serializes writers per user.
type Session struct {
	SessionId      string            `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Messages       []Message         `json:"messages"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TTLSeconds     int               `json:"ttl_seconds"`
}

// Expired reports whether the session has been idle past its TTL.
func (s *Session) Expired(now time.Time) bool {
	if s.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > time.Duration(s.TTLSeconds)*time.Second
}

// TTLRemaining returns how long until the session expires, clamped at zero.
func (s *Session) TTLRemaining(now time.Time) time.Duration {
	if s.TTLSeconds <= 0 {
		return 0
	}
	remaining := time.Duration(s.TTLSeconds)*time.Second - now.Sub(s.LastActivityAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SessionStats is the summary shape returned by the sessions admin API.
type SessionStats struct {
	SessionId      string        `json:"session_id"`
	MessageCount   int           `json:"message_count"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	TTLRemaining   time.Duration `json:"ttl_remaining"`
}
