// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrails validates and sanitizes text on both sides of the LLM.
// The engine runs an ordered rule list against a piece of text and returns
// the sanitized text plus every violation found; it never touches the
// session or the index, and whether a turn proceeds is the caller's call
// based on violation severity.
package guardrails

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianConverse/services/guardrails/enforcement"
)

// Config toggles the built-in rule set. Zero values are filled in by
// DefaultConfig; NewEngine applies the toggles when assembling rules.
type Config struct {
	MaxInputLength  int
	MaxOutputLength int

	EnableContentFilter  bool
	EnablePIIDetection   bool
	EnableToxicityFilter bool

	// PIIInputSeverity decides what an input PII hit does: medium redacts
	// and proceeds, high blocks the turn outright.
	PIIInputSeverity Severity

	// ToxicityThreshold is the score at which the toxicity rule fires.
	ToxicityThreshold float64

	// ToxicityScorer overrides the built-in keyword heuristic. Leave nil
	// for the default.
	ToxicityScorer ToxicityScorer
}

// DefaultConfig mirrors the recognized configuration surface defaults.
func DefaultConfig() Config {
	return Config{
		MaxInputLength:       2000,
		MaxOutputLength:      2000,
		EnableContentFilter:  true,
		EnablePIIDetection:   true,
		EnableToxicityFilter: true,
		PIIInputSeverity:     SeverityMedium,
		ToxicityThreshold:    1,
	}
}

// Engine holds the assembled rule lists. It is immutable after construction
// and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine assembles the engine from the embedded pattern file and the
// given toggles.
//
// It performs the following operations:
//  1. Unmarshals the pattern definitions embedded in the binary.
//  2. Compiles all regex patterns.
//  3. Builds the rule list honoring the config toggles.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewEngine(cfg Config) (*Engine, error) {
	file, blocked, pii, err := ParsePatternFile(enforcement.GuardrailPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded guardrail patterns: %w", err)
	}

	piiSeverity := cfg.PIIInputSeverity
	if piiSeverity == "" {
		piiSeverity = SeverityMedium
	}
	scorer := cfg.ToxicityScorer
	if scorer == nil {
		scorer = KeywordScorer(file.ToxicKeywords)
	}

	rules := []Rule{
		&EmptyInputRule{},
		NewInputLengthRule(cfg.MaxInputLength),
		NewOutputLengthRule(cfg.MaxOutputLength),
	}
	if cfg.EnableContentFilter {
		rules = append(rules, NewBlockedPatternRule(blocked))
	}
	if cfg.EnablePIIDetection {
		rules = append(rules,
			NewPIIRule(pii, piiSeverity, DirectionInput),
			// Output PII is always high: a model leaking PII is discarded,
			// not redacted-and-shown.
			NewPIIRule(pii, SeverityHigh, DirectionOutput),
		)
	}
	if cfg.EnableToxicityFilter {
		rules = append(rules, NewToxicityRule(scorer, cfg.ToxicityThreshold, DirectionBoth))
	}

	return &Engine{rules: rules}, nil
}

// NewEngineWithRules builds an engine over an explicit rule list. Intended
// for tests and callers with fully custom policies.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Validate runs every rule registered for the direction and returns the
// sanitized text plus all violations.
//
// Severity handling:
//   - high: recorded; the text is not transformed (the caller blocks the turn)
//   - medium: recorded; the rule's sanitized text replaces the working text
//   - low: recorded only
//
// A rule that errors or panics fails open unless it is safety-critical, in
// which case a synthetic high violation is recorded so the caller blocks.
func (e *Engine) Validate(text string, direction Direction) (string, []Violation) {
	var violations []Violation
	working := text

	for _, rule := range e.rules {
		if !rule.Direction().Applies(direction) {
			continue
		}
		res, err := e.runRule(rule, working)
		if err != nil {
			if rule.SafetyCritical() {
				slog.Error("Safety-critical guardrail failed, blocking turn",
					"rule", rule.Id(), "direction", direction, "error", err)
				violations = append(violations, Violation{
					RuleId:   rule.Id(),
					Severity: SeverityHigh,
					Field:    direction,
					Detail:   "safety-critical rule failed closed",
				})
			} else {
				slog.Warn("Guardrail failed open, skipping rule",
					"rule", rule.Id(), "direction", direction, "error", err)
			}
			continue
		}
		if res.Violation == nil {
			continue
		}
		violations = append(violations, *res.Violation)
		if res.Violation.Severity == SeverityMedium {
			working = res.Sanitized
		}
	}

	return working, violations
}

// runRule isolates a single rule evaluation, converting panics into errors
// so one broken detector cannot take down the turn processing loop.
func (e *Engine) runRule(rule Rule, text string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Id(), r)
		}
	}()
	return rule.Evaluate(text)
}

// HasHighSeverity reports whether any violation requires blocking the turn.
func HasHighSeverity(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
