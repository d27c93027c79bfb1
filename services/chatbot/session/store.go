// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the dual-layer conversation store: a process-local
// cache in front of a durable TTL key-value store. Writes land in the cache
// synchronously and are pushed to the durable layer best-effort; a durable
// outage degrades the store to local-only operation without changing its
// contract, and it re-promotes itself once the durable layer answers again.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
)

var sessionTracer = otel.Tracer("converse.chatbot.session")

// Backend identifies which persistence mode the store is operating in.
// It is surfaced to callers on every chat response.
type Backend string

const (
	BackendDurable  Backend = "durable"
	BackendDegraded Backend = "degraded"
)

// Config holds session store tuning. Zero values are replaced by defaults.
type Config struct {
	// TTL is how long an idle session lives. Both Get and Append refresh it.
	TTL time.Duration

	// ProbeInterval is the minimum spacing between re-probes of an
	// unreachable durable store, so a hard outage does not add a ping to
	// every operation.
	ProbeInterval time.Duration

	// HistoryCharBudget caps the character size of the formatted prompt
	// context returned by AsPromptContext.
	HistoryCharBudget int

	// Clock overrides time.Now, for TTL tests.
	Clock func() time.Time
}

// DefaultConfig mirrors the recognized configuration defaults: one-hour
// sessions, five-second probe spacing.
func DefaultConfig() Config {
	return Config{
		TTL:               time.Hour,
		ProbeInterval:     5 * time.Second,
		HistoryCharBudget: 2000,
	}
}

const (
	modeDurable int32 = iota
	modeDegraded
)

// Store is the dual-layer session store. All exported methods are safe for
// concurrent use; operations on the same userId are serialized, operations
// on different userIds proceed independently.
type Store struct {
	durable DurableStore
	cfg     Config
	clock   func() time.Time

	mode      atomic.Int32
	lastProbe atomic.Int64 // unix nanos of the last degraded-mode probe

	mu    sync.Mutex
	cache map[string]*datatypes.Session
	locks map[string]*sync.Mutex
}

// NewStore builds the store and probes the durable layer once. A nil
// durable store yields a permanently degraded (local-only) store, which is
// a supported configuration for tests and single-process deployments.
func NewStore(durable DurableStore, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.HistoryCharBudget <= 0 {
		cfg.HistoryCharBudget = def.HistoryCharBudget
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Store{
		durable: durable,
		cfg:     cfg,
		clock:   clock,
		cache:   make(map[string]*datatypes.Session),
		locks:   make(map[string]*sync.Mutex),
	}

	if durable == nil {
		s.mode.Store(modeDegraded)
		degradedMode.Set(1)
		slog.Warn("No durable session store configured, sessions are local-only")
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := durable.Ping(ctx); err != nil {
		s.mode.Store(modeDegraded)
		degradedMode.Set(1)
		slog.Warn("Durable session store unreachable on startup, degrading to local-only", "error", err)
	} else {
		degradedMode.Set(0)
		slog.Info("Durable session store reachable", "ttl", cfg.TTL)
	}
	return s
}

// Backend reports the current persistence mode.
func (s *Store) Backend() Backend {
	if s.mode.Load() == modeDegraded {
		return BackendDegraded
	}
	return BackendDurable
}

// sessionKey builds the durable-layer key for a user.
func sessionKey(userId string) string {
	return "session:" + userId
}

// userLock returns the mutex serializing operations for one user.
func (s *Store) userLock(userId string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[userId]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[userId] = lk
	}
	return lk
}

// =====================================================================
// Reachability
// =====================================================================

// reachable reports whether the durable layer should be used right now.
// In degraded mode it re-probes at most once per ProbeInterval and
// promotes the store back to durable on a successful ping.
func (s *Store) reachable(ctx context.Context) bool {
	if s.durable == nil {
		return false
	}
	if s.mode.Load() == modeDurable {
		return true
	}

	now := s.clock().UnixNano()
	last := s.lastProbe.Load()
	if last != 0 && now-last < int64(s.cfg.ProbeInterval) {
		return false
	}
	if !s.lastProbe.CompareAndSwap(last, now) {
		// Another goroutine is probing.
		return false
	}
	if err := s.durable.Ping(ctx); err != nil {
		slog.Debug("Durable session store still unreachable", "error", err)
		return false
	}
	if s.mode.CompareAndSwap(modeDegraded, modeDurable) {
		degradedMode.Set(0)
		slog.Info("Durable session store reachable again, re-entering durable mode")
	}
	return true
}

// degrade flips the store into local-only mode after a durable failure.
func (s *Store) degrade(err error) {
	if s.mode.CompareAndSwap(modeDurable, modeDegraded) {
		s.lastProbe.Store(s.clock().UnixNano())
		degradedMode.Set(1)
		slog.Warn("Durable session store unreachable, degrading to local-only", "error", err)
	}
}

// =====================================================================
// Internal load / persist (caller holds the user lock)
// =====================================================================

// loadLocked returns the live session for a user, or nil if none exists.
// The cache is authoritative when populated; the durable layer is only
// consulted on a cache miss. Expired sessions are treated as absent in
// both layers.
func (s *Store) loadLocked(ctx context.Context, userId string) *datatypes.Session {
	now := s.clock()

	s.mu.Lock()
	sess, ok := s.cache[userId]
	s.mu.Unlock()
	if ok {
		if sess.Expired(now) {
			s.evict(ctx, userId)
			return nil
		}
		return sess
	}

	if !s.reachable(ctx) {
		return nil
	}
	raw, err := s.durable.Load(ctx, sessionKey(userId))
	if err != nil {
		if err != ErrNotFound {
			s.degrade(err)
		}
		return nil
	}
	var loaded datatypes.Session
	if err := json.Unmarshal(raw, &loaded); err != nil {
		slog.Error("Discarding undecodable session record", "userId", userId, "error", err)
		_ = s.durable.Delete(ctx, sessionKey(userId))
		return nil
	}
	if loaded.Expired(now) {
		_ = s.durable.Delete(ctx, sessionKey(userId))
		return nil
	}

	s.mu.Lock()
	s.cache[userId] = &loaded
	s.mu.Unlock()
	return &loaded
}

// ensureLocked returns the live session for a user, creating one if absent.
func (s *Store) ensureLocked(ctx context.Context, userId string) *datatypes.Session {
	if sess := s.loadLocked(ctx, userId); sess != nil {
		return sess
	}
	now := s.clock()
	sess := &datatypes.Session{
		SessionId:      uuid.NewString(),
		CreatedAt:      now,
		LastActivityAt: now,
		Messages:       nil,
		Metadata:       make(map[string]string),
		TTLSeconds:     int(s.cfg.TTL / time.Second),
	}
	s.mu.Lock()
	s.cache[userId] = sess
	s.mu.Unlock()
	return sess
}

// persistLocked pushes the whole session record to the durable layer with a
// fresh TTL. Failures degrade the store but never fail the caller; the cache
// already holds the authoritative copy.
func (s *Store) persistLocked(ctx context.Context, userId string, sess *datatypes.Session) {
	if !s.reachable(ctx) {
		return
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		slog.Error("Failed to encode session record", "userId", userId, "error", err)
		return
	}
	if err := s.durable.Save(ctx, sessionKey(userId), raw, s.cfg.TTL); err != nil {
		durableWriteFailures.Inc()
		s.degrade(err)
	}
}

// evict drops a session from both layers.
func (s *Store) evict(ctx context.Context, userId string) {
	s.mu.Lock()
	delete(s.cache, userId)
	s.mu.Unlock()
	if s.reachable(ctx) {
		if err := s.durable.Delete(ctx, sessionKey(userId)); err != nil {
			s.degrade(err)
		}
	}
}

// =====================================================================
// Public API
// =====================================================================

// Get returns a copy of the user's session, creating a fresh one if the user
// has none or the previous one has expired. It refreshes the activity
// timestamp and the remote TTL.
func (s *Store) Get(ctx context.Context, userId string) datatypes.Session {
	ctx, span := sessionTracer.Start(ctx, "session.Get")
	defer span.End()
	span.SetAttributes(attribute.String("userId", userId))

	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()

	sess := s.ensureLocked(ctx, userId)
	sess.LastActivityAt = s.clock()
	s.persistLocked(ctx, userId, sess)
	return copySession(sess)
}

// Append adds one message to the user's session and refreshes its TTL.
// It returns a copy of the updated session.
func (s *Store) Append(ctx context.Context, userId string, msg datatypes.Message) datatypes.Session {
	ctx, span := sessionTracer.Start(ctx, "session.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("userId", userId),
		attribute.String("role", msg.Role),
	)

	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()

	sess := s.ensureLocked(ctx, userId)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock()
	}
	sess.Messages = append(sess.Messages, msg)
	sess.LastActivityAt = s.clock()
	s.persistLocked(ctx, userId, sess)
	return copySession(sess)
}

// History returns the most recent limit messages for a user in chronological
// order. limit <= 0 means all messages. An absent or expired session yields
// an empty slice.
func (s *Store) History(ctx context.Context, userId string, limit int) []datatypes.Message {
	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()

	sess := s.loadLocked(ctx, userId)
	if sess == nil {
		return nil
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]datatypes.Message, len(msgs))
	copy(out, msgs)
	return out
}

// AsPromptContext renders the user's history into the flat text block fed to
// the LLM prompt, bounded by the configured character budget.
func (s *Store) AsPromptContext(ctx context.Context, userId string) string {
	return FormatHistory(s.History(ctx, userId, 0), s.cfg.HistoryCharBudget)
}

// Expire removes the user's session from both layers immediately.
func (s *Store) Expire(ctx context.Context, userId string) {
	ctx, span := sessionTracer.Start(ctx, "session.Expire")
	defer span.End()
	span.SetAttributes(attribute.String("userId", userId))

	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()
	s.evict(ctx, userId)
}

// Stats reports summary information about a user's session. The second
// return value is false when the user has no live session.
func (s *Store) Stats(ctx context.Context, userId string) (datatypes.SessionStats, bool) {
	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()

	sess := s.loadLocked(ctx, userId)
	if sess == nil {
		return datatypes.SessionStats{}, false
	}
	now := s.clock()
	return datatypes.SessionStats{
		SessionId:      sess.SessionId,
		MessageCount:   len(sess.Messages),
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		TTLRemaining:   sess.TTLRemaining(now),
	}, true
}

// RecordBlock notes a guardrail block in the session metadata so repeated
// blocks are visible in the session admin API. It does not append a message.
func (s *Store) RecordBlock(ctx context.Context, userId, reason string) {
	lk := s.userLock(userId)
	lk.Lock()
	defer lk.Unlock()

	sess := s.ensureLocked(ctx, userId)
	count := 0
	if prev, ok := sess.Metadata["blocked_count"]; ok {
		count, _ = strconv.Atoi(prev)
	}
	sess.Metadata["blocked_count"] = strconv.Itoa(count + 1)
	sess.Metadata["last_block_reason"] = reason
	sess.Metadata["last_block_at"] = s.clock().UTC().Format(time.RFC3339)
	sess.LastActivityAt = s.clock()
	s.persistLocked(ctx, userId, sess)
}

// ActiveUsers lists userIds with a live cached session, for the admin API.
// Sessions that exist only in the durable layer are not enumerated.
func (s *Store) ActiveUsers() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.cache))
	for userId := range s.cache {
		ids = append(ids, userId)
	}
	s.mu.Unlock()

	// Session fields are only stable under the owning user's lock; the map
	// mutex alone is not enough to read them.
	now := s.clock()
	users := make([]string, 0, len(ids))
	for _, userId := range ids {
		lk := s.userLock(userId)
		lk.Lock()
		s.mu.Lock()
		sess, ok := s.cache[userId]
		s.mu.Unlock()
		if ok && !sess.Expired(now) {
			users = append(users, userId)
		}
		lk.Unlock()
	}
	return users
}

// =====================================================================
// Prompt formatting
// =====================================================================

const messageSnippetLen = 100

// FormatHistory renders messages as "User: ...\nAssistant: ..." lines for
// prompt context. Each message body is truncated to 100 characters, and the
// most recent whole messages that fit within charBudget are kept.
func FormatHistory(msgs []datatypes.Message, charBudget int) string {
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := "User"
		if m.Role == datatypes.RoleAssistant {
			label = "Assistant"
		}
		body := m.Content
		if r := []rune(body); len(r) > messageSnippetLen {
			body = string(r[:messageSnippetLen]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, body))
	}

	// Walk backwards keeping whole lines until the budget runs out.
	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := len(lines[i])
		if total > 0 {
			cost++ // newline
		}
		if charBudget > 0 && total+cost > charBudget {
			break
		}
		total += cost
		start = i
	}
	if start == len(lines) {
		return ""
	}

	out := lines[start]
	for _, line := range lines[start+1:] {
		out += "\n" + line
	}
	return out
}

// copySession returns a deep enough copy that callers cannot mutate the
// cached record through the return value.
func copySession(sess *datatypes.Session) datatypes.Session {
	out := *sess
	out.Messages = make([]datatypes.Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	out.Metadata = make(map[string]string, len(sess.Metadata))
	for k, v := range sess.Metadata {
		out.Metadata[k] = v
	}
	return out
}
