// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation implements the turn state machine: input guardrails,
// best-effort retrieval, prompt assembly, bounded-retry generation, output
// guardrails, and exactly-once session persistence.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/session"
	"github.com/AleutianAI/AleutianConverse/services/guardrails"
	"github.com/AleutianAI/AleutianConverse/services/llm"
)

var convTracer = otel.Tracer("converse.chatbot.conversation")

// State is the turn state machine position. Terminal states are Blocked and
// Completed; everything else is transient.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateInputValidating  State = "INPUT_VALIDATING"
	StateRetrieving       State = "RETRIEVING"
	StateGenerating       State = "GENERATING"
	StateOutputValidating State = "OUTPUT_VALIDATING"
	StateBlocked          State = "BLOCKED"
	StateCompleted        State = "COMPLETED"
)

// Block reason categories surfaced to callers. Raw rule internals stay in
// the violations list; the reason is always one of these.
const (
	ReasonInputViolation  = "input_guardrail"
	ReasonOutputViolation = "output_guardrail"
	ReasonGenerationError = "generation_failed"
)

// ErrEmptyUserId rejects turns with no user identity, since sessions and
// per-user serialization are keyed on it.
var ErrEmptyUserId = errors.New("userId must not be empty")

// Retriever is the slice of the vector index the orchestrator consumes.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]datatypes.RetrievedResult, error)
}

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// TopK is the number of chunks requested from retrieval.
	TopK int

	// MaxRetries is how many extra generation attempts follow a failed
	// LLM call.
	MaxRetries int

	// RetryBackoff is the pause before each retry attempt.
	RetryBackoff time.Duration

	// TurnDeadline bounds one whole turn including all provider calls.
	TurnDeadline time.Duration

	// Generation is passed through to the LLM on every call.
	Generation llm.GenerationParams
}

// DefaultConfig returns the recognized defaults: top-3 retrieval, a single
// retry after one second, and a 60 second turn deadline.
func DefaultConfig() Config {
	return Config{
		TopK:         3,
		MaxRetries:   1,
		RetryBackoff: time.Second,
		TurnDeadline: 60 * time.Second,
	}
}

// ChatResult is the caller-facing response shape. Every turn ends in one of
// these; no error escapes the orchestrator except for invalid arguments and
// caller-cancelled contexts.
type ChatResult struct {
	Response       string                 `json:"response"`
	Sources        []datatypes.SourceInfo `json:"sources,omitempty"`
	Blocked        bool                   `json:"blocked"`
	BlockReason    string                 `json:"block_reason,omitempty"`
	Violations     []guardrails.Violation `json:"violations,omitempty"`
	SessionBackend session.Backend        `json:"session_backend"`
	State          State                  `json:"state"`
}

// Orchestrator sequences one conversation turn through the state machine.
// Turns for different users run concurrently; turns for the same user are
// serialized so a session never interleaves two appends.
type Orchestrator struct {
	guardrails *guardrails.Engine
	retriever  Retriever
	client     llm.LLMClient
	sessions   *session.Store
	cfg        Config

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// NewOrchestrator wires the four collaborators together. All of them are
// required except the retriever, which may be nil for a context-free bot.
func NewOrchestrator(
	engine *guardrails.Engine,
	retriever Retriever,
	client llm.LLMClient,
	sessions *session.Store,
	cfg Config,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = def.TurnDeadline
	}
	return &Orchestrator{
		guardrails: engine,
		retriever:  retriever,
		client:     client,
		sessions:   sessions,
		cfg:        cfg,
		turns:      make(map[string]*sync.Mutex),
	}
}

// turnLock returns the mutex serializing turns for one user.
func (o *Orchestrator) turnLock(userId string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lk, ok := o.turns[userId]
	if !ok {
		lk = &sync.Mutex{}
		o.turns[userId] = lk
	}
	return lk
}

// Chat runs one full turn for a user. The returned error is non-nil only
// for invalid arguments; provider failures and guardrail blocks are
// expressed through the result shape.
func (o *Orchestrator) Chat(ctx context.Context, userId, query string) (*ChatResult, error) {
	if userId == "" {
		return nil, ErrEmptyUserId
	}

	ctx, span := convTracer.Start(ctx, "conversation.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("userId", userId))

	lk := o.turnLock(userId)
	lk.Lock()
	defer lk.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()

	start := time.Now()
	turnsInFlight.Inc()
	defer turnsInFlight.Dec()
	result := o.runTurn(ctx, userId, query)
	result.SessionBackend = o.sessions.Backend()

	outcome := outcomeLabel(result)
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Bool("blocked", result.Blocked),
	)
	if result.Blocked {
		span.SetStatus(codes.Error, result.BlockReason)
	}
	return result, nil
}

func outcomeLabel(r *ChatResult) string {
	switch {
	case r.State == StateCompleted:
		return "completed"
	case r.BlockReason == ReasonGenerationError:
		return "generation_failed"
	case r.BlockReason == ReasonOutputViolation:
		return "blocked_output"
	default:
		return "blocked_input"
	}
}

// runTurn walks the state machine. It never returns nil.
func (o *Orchestrator) runTurn(ctx context.Context, userId, query string) *ChatResult {
	// RECEIVED -> INPUT_VALIDATING
	sanitizedInput, inputViolations := o.guardrails.Validate(query, guardrails.DirectionInput)
	countViolations(inputViolations)
	if guardrails.HasHighSeverity(inputViolations) {
		o.sessions.RecordBlock(ctx, userId, ReasonInputViolation)
		slog.Info("Turn blocked on input guardrails",
			"userId", userId, "violations", len(inputViolations))
		return &ChatResult{
			Response:    "I can't help with that request.",
			Blocked:     true,
			BlockReason: ReasonInputViolation,
			Violations:  inputViolations,
			State:       StateBlocked,
		}
	}

	// INPUT_VALIDATING -> RETRIEVING. Retrieval is best-effort: a failing
	// index degrades the turn to zero-context generation.
	retrieved := o.retrieve(ctx, sanitizedInput)
	history := o.sessions.AsPromptContext(ctx, userId)

	// RETRIEVING -> GENERATING
	prompt := BuildPrompt(sanitizedInput, history, retrieved)
	answer, err := o.generate(ctx, prompt)
	if err != nil {
		o.sessions.RecordBlock(ctx, userId, ReasonGenerationError)
		slog.Error("Turn failed in generation", "userId", userId, "error", err)
		return &ChatResult{
			Response:    "I'm having trouble answering right now. Please try again shortly.",
			Blocked:     true,
			BlockReason: ReasonGenerationError,
			Violations:  inputViolations,
			State:       StateBlocked,
		}
	}

	// GENERATING -> OUTPUT_VALIDATING
	sanitizedOutput, outputViolations := o.guardrails.Validate(answer, guardrails.DirectionOutput)
	countViolations(outputViolations)
	violations := append(inputViolations, outputViolations...)
	if guardrails.HasHighSeverity(outputViolations) {
		// The generated answer is discarded, never shown or persisted.
		o.sessions.RecordBlock(ctx, userId, ReasonOutputViolation)
		slog.Info("Turn blocked on output guardrails",
			"userId", userId, "violations", len(outputViolations))
		return &ChatResult{
			Response:    "I generated a response I'm not able to share.",
			Blocked:     true,
			BlockReason: ReasonOutputViolation,
			Violations:  violations,
			State:       StateBlocked,
		}
	}

	// OUTPUT_VALIDATING -> COMPLETED: append exactly one message pair.
	sources := make([]datatypes.SourceInfo, 0, len(retrieved))
	chunkIds := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		sources = append(sources, datatypes.NewSourceInfo(r))
		chunkIds = append(chunkIds, r.Chunk.Id)
	}

	redacted := len(violations) > 0
	o.sessions.Append(ctx, userId, datatypes.Message{
		Role:              datatypes.RoleUser,
		Content:           sanitizedInput,
		RedactionsApplied: sanitizedInput != query,
	})
	o.sessions.Append(ctx, userId, datatypes.Message{
		Role:              datatypes.RoleAssistant,
		Content:           sanitizedOutput,
		Sources:           chunkIds,
		RedactionsApplied: redacted && sanitizedOutput != answer,
	})

	return &ChatResult{
		Response:   sanitizedOutput,
		Sources:    sources,
		Violations: violations,
		State:      StateCompleted,
	}
}

// retrieve asks the index for context chunks. Failures are logged and
// shrink the context to nothing instead of aborting the turn.
func (o *Orchestrator) retrieve(ctx context.Context, query string) []datatypes.RetrievedResult {
	if o.retriever == nil {
		return nil
	}
	ctx, span := convTracer.Start(ctx, "conversation.retrieve")
	defer span.End()

	results, err := o.retriever.Search(ctx, query, o.cfg.TopK)
	if err != nil {
		retrievalDegraded.Inc()
		span.RecordError(err)
		slog.Warn("Retrieval unavailable, generating without context", "error", err)
		return nil
	}
	retrievalResults.Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results
}

// generate calls the LLM with bounded retries. A deadline hit at any point
// aborts immediately; partial output is never returned.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := convTracer.Start(ctx, "conversation.generate")
	defer span.End()

	var lastErr error
	attempts := o.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			llmRetries.Inc()
			select {
			case <-time.After(o.cfg.RetryBackoff):
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				return "", fmt.Errorf("turn deadline exceeded before retry: %w", ctx.Err())
			}
		}

		answer, err := o.client.Generate(ctx, prompt, o.cfg.Generation)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Warn("LLM generation attempt failed", "attempt", attempt+1, "error", err)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "generation failed")
	return "", fmt.Errorf("generation failed after %d attempts: %w", attempts, lastErr)
}

// countViolations feeds the guardrail metrics.
func countViolations(violations []guardrails.Violation) {
	for _, v := range violations {
		guardrailViolations.WithLabelValues(v.RuleId, string(v.Severity), string(v.Field)).Inc()
	}
}
