// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrails

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Length / Empty Rules
// =============================================================================

// LengthRule bounds the character length of a turn. The input variant is a
// hard block; the output variant truncates and records a medium violation.
type LengthRule struct {
	id        string
	max       int
	severity  Severity
	direction Direction
	truncate  bool
}

// NewInputLengthRule builds the high-severity input length bound.
func NewInputLengthRule(max int) *LengthRule {
	return &LengthRule{id: "max_input_length", max: max, severity: SeverityHigh, direction: DirectionInput}
}

// NewOutputLengthRule builds the medium-severity output length bound, which
// truncates over-long responses instead of discarding them.
func NewOutputLengthRule(max int) *LengthRule {
	return &LengthRule{id: "max_output_length", max: max, severity: SeverityMedium, direction: DirectionOutput, truncate: true}
}

func (r *LengthRule) Id() string           { return r.id }
func (r *LengthRule) Severity() Severity   { return r.severity }
func (r *LengthRule) Direction() Direction { return r.direction }
func (r *LengthRule) SafetyCritical() bool { return false }

func (r *LengthRule) Evaluate(text string) (Result, error) {
	// Length is measured in runes, not bytes, so multi-byte input is never
	// penalized and truncation cannot split a character.
	runes := []rune(text)
	if len(runes) <= r.max {
		return Result{Sanitized: text}, nil
	}
	sanitized := text
	if r.truncate {
		sanitized = string(runes[:r.max]) + "..."
	}
	return Result{
		Violation: &Violation{
			RuleId:   r.id,
			Severity: r.severity,
			Field:    r.direction,
			Detail:   fmt.Sprintf("text exceeds maximum length of %d characters", r.max),
		},
		Sanitized: sanitized,
	}, nil
}

// EmptyInputRule rejects blank input before any downstream work runs.
type EmptyInputRule struct{}

func (r *EmptyInputRule) Id() string           { return "empty_input" }
func (r *EmptyInputRule) Severity() Severity   { return SeverityHigh }
func (r *EmptyInputRule) Direction() Direction { return DirectionInput }
func (r *EmptyInputRule) SafetyCritical() bool { return false }

func (r *EmptyInputRule) Evaluate(text string) (Result, error) {
	if strings.TrimSpace(text) != "" {
		return Result{Sanitized: text}, nil
	}
	return Result{
		Violation: &Violation{
			RuleId:   r.Id(),
			Severity: SeverityHigh,
			Field:    DirectionInput,
			Detail:   "input cannot be empty",
		},
		Sanitized: text,
	}, nil
}

// =============================================================================
// Blocked Pattern Rule
// =============================================================================

// BlockedPatternRule rejects text matching any configured regex. This rule
// is safety-critical: a failure inside it blocks the turn rather than
// letting unscreened content through.
type BlockedPatternRule struct {
	patterns []*regexp.Regexp
}

// NewBlockedPatternRule builds the rule over pre-compiled patterns,
// typically from the embedded pattern file.
func NewBlockedPatternRule(patterns []*regexp.Regexp) *BlockedPatternRule {
	return &BlockedPatternRule{patterns: patterns}
}

func (r *BlockedPatternRule) Id() string           { return "blocked_content" }
func (r *BlockedPatternRule) Severity() Severity   { return SeverityHigh }
func (r *BlockedPatternRule) Direction() Direction { return DirectionInput }
func (r *BlockedPatternRule) SafetyCritical() bool { return true }

func (r *BlockedPatternRule) Evaluate(text string) (Result, error) {
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return Result{
				Violation: &Violation{
					RuleId:   r.Id(),
					Severity: SeverityHigh,
					Field:    DirectionInput,
					Detail:   "input contains blocked content",
				},
				Sanitized: text,
			}, nil
		}
	}
	return Result{Sanitized: text}, nil
}

// =============================================================================
// PII Rule
// =============================================================================

// PIIRule detects personally identifiable information by regex family
// (email, phone, SSN, credit card). At medium severity matches are redacted
// in place and the turn proceeds; at high severity the turn is blocked.
type PIIRule struct {
	families  map[string]*regexp.Regexp
	severity  Severity
	direction Direction
}

// NewPIIRule builds a PII detector for one direction. severity decides
// redact-and-proceed (medium) versus block (high).
func NewPIIRule(families map[string]*regexp.Regexp, severity Severity, direction Direction) *PIIRule {
	return &PIIRule{families: families, severity: severity, direction: direction}
}

func (r *PIIRule) Id() string           { return "pii_detected" }
func (r *PIIRule) Severity() Severity   { return r.severity }
func (r *PIIRule) Direction() Direction { return r.direction }
func (r *PIIRule) SafetyCritical() bool { return true }

func (r *PIIRule) Evaluate(text string) (Result, error) {
	var found []string
	for name, re := range r.families {
		if re.MatchString(text) {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return Result{Sanitized: text}, nil
	}
	// Map iteration order is random; sort so Detail is deterministic.
	sort.Strings(found)

	sanitized := text
	if r.severity != SeverityHigh {
		sanitized = r.Redact(text)
	}
	return Result{
		Violation: &Violation{
			RuleId:   r.Id(),
			Severity: r.severity,
			Field:    r.direction,
			Detail:   fmt.Sprintf("PII detected: %s", strings.Join(found, ", ")),
		},
		Sanitized: sanitized,
	}, nil
}

// Redact replaces every PII match with a family-tagged placeholder, e.g.
// "[REDACTED_EMAIL]".
func (r *PIIRule) Redact(text string) string {
	sanitized := text
	for name, re := range r.families {
		sanitized = re.ReplaceAllString(sanitized, fmt.Sprintf("[REDACTED_%s]", strings.ToUpper(name)))
	}
	return sanitized
}

// =============================================================================
// Toxicity Rule
// =============================================================================

// ToxicityScorer returns a toxicity score for the text. The default is the
// keyword heuristic below; deployments can inject an external scorer.
type ToxicityScorer func(text string) (float64, error)

// KeywordScorer scores text by counting distinct toxic keyword hits.
func KeywordScorer(keywords []string) ToxicityScorer {
	return func(text string) (float64, error) {
		lower := strings.ToLower(text)
		hits := 0.0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		return hits, nil
	}
}

// ToxicityRule blocks text whose toxicity score reaches the threshold. The
// rule is not safety-critical: a scorer failure skips the rule instead of
// blocking every turn during a scorer outage.
type ToxicityRule struct {
	scorer    ToxicityScorer
	threshold float64
	direction Direction
}

// NewToxicityRule builds the rule for one direction with the given scorer
// and threshold.
func NewToxicityRule(scorer ToxicityScorer, threshold float64, direction Direction) *ToxicityRule {
	return &ToxicityRule{scorer: scorer, threshold: threshold, direction: direction}
}

func (r *ToxicityRule) Id() string           { return "toxic_content" }
func (r *ToxicityRule) Severity() Severity   { return SeverityHigh }
func (r *ToxicityRule) Direction() Direction { return r.direction }
func (r *ToxicityRule) SafetyCritical() bool { return false }

func (r *ToxicityRule) Evaluate(text string) (Result, error) {
	score, err := r.scorer(text)
	if err != nil {
		return Result{Sanitized: text}, fmt.Errorf("toxicity scorer failed: %w", err)
	}
	if score < r.threshold {
		return Result{Sanitized: text}, nil
	}
	return Result{
		Violation: &Violation{
			RuleId:   r.Id(),
			Severity: SeverityHigh,
			Field:    r.direction,
			Detail:   fmt.Sprintf("potentially toxic content detected (score %.1f)", score),
		},
		Sanitized: text,
	}, nil
}
