// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the chatbot service configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the validated configuration surface of the chatbot service.
type Config struct {
	Port string `validate:"required"`

	// Ingestion
	ChunkSize    int    `validate:"gt=0"`
	ChunkOverlap int    `validate:"gte=0,ltfield=ChunkSize"`
	DocsDir      string // optional corpus directory ingested on startup
	WatchDocs    bool   // re-ingest on file changes under DocsDir

	// Retrieval
	TopK int `validate:"gt=0"`

	// Guardrails
	MaxInputLength       int `validate:"gt=0"`
	MaxOutputLength      int `validate:"gt=0"`
	EnableContentFilter  bool
	EnablePIIDetection   bool
	EnableToxicityFilter bool
	PIIInputSeverity     string `validate:"oneof=low medium high"`

	// Sessions
	SessionTTLSeconds int    `validate:"gt=0"`
	DataDir           string // Badger path for durable sessions; empty runs in-memory

	// LLM
	LLMBackend      string `validate:"oneof=openai ollama"`
	LLMMaxRetries   int    `validate:"gte=0"`
	LLMRetryBackoff time.Duration
	TurnDeadline    time.Duration `validate:"gt=0"`
	LLMRateLimitRPS float64       `validate:"gte=0"`
}

// Load reads the environment into a Config and validates it. A .env file in
// the working directory is honored when present but never required.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration overrides from .env")
	}

	cfg := &Config{
		Port:                 envStr("CHATBOT_PORT", "12310"),
		ChunkSize:            envInt("CHUNK_SIZE", 500),
		ChunkOverlap:         envInt("CHUNK_OVERLAP", 50),
		DocsDir:              os.Getenv("DOCS_DIR"),
		WatchDocs:            envBool("WATCH_DOCS", false),
		TopK:                 envInt("RETRIEVAL_TOP_K", 3),
		MaxInputLength:       envInt("MAX_INPUT_LENGTH", 2000),
		MaxOutputLength:      envInt("MAX_OUTPUT_LENGTH", 2000),
		EnableContentFilter:  envBool("ENABLE_CONTENT_FILTER", true),
		EnablePIIDetection:   envBool("ENABLE_PII_DETECTION", true),
		EnableToxicityFilter: envBool("ENABLE_TOXICITY_FILTER", true),
		PIIInputSeverity:     envStr("PII_INPUT_SEVERITY", "medium"),
		SessionTTLSeconds:    envInt("SESSION_TTL_SECONDS", 3600),
		DataDir:              os.Getenv("DATA_DIR"),
		LLMBackend:           envStr("LLM_BACKEND_TYPE", "ollama"),
		LLMMaxRetries:        envInt("LLM_MAX_RETRIES", 1),
		LLMRetryBackoff:      envDuration("LLM_RETRY_BACKOFF", time.Second),
		TurnDeadline:         envDuration("TURN_DEADLINE", 60*time.Second),
		LLMRateLimitRPS:      envFloat("LLM_RATE_LIMIT_RPS", 0),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", v)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring unparsable duration environment value", "key", key, "value", v)
		return fallback
	}
	return d
}
