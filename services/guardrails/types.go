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

	"gopkg.in/yaml.v3"
)

// Severity controls what the caller must do with a violation: high blocks
// the turn, medium sanitizes and proceeds, low is informational only.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Direction marks which side of the LLM a rule inspects.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionBoth   Direction = "both"
)

// Applies reports whether a rule declared for d should run for the
// requested direction.
func (d Direction) Applies(requested Direction) bool {
	return d == DirectionBoth || d == requested
}

// Violation records a single guardrail hit. Violations are ephemeral and
// attached to one validation call; they are never persisted verbatim to the
// session (only a reason category reaches the caller on a block).
type Violation struct {
	RuleId   string    `json:"rule_id"`
	Severity Severity  `json:"severity"`
	Field    Direction `json:"field"`
	Detail   string    `json:"detail"`
}

// Result carries the outcome of one rule evaluation. Sanitized always holds
// the text to continue with, identical to the input when the rule made no
// transformation.
type Result struct {
	Violation *Violation
	Sanitized string
}

// Rule is the uniform contract every guardrail implements. The engine
// iterates the rule list for a direction; there is no dynamic dispatch
// beyond this interface.
type Rule interface {
	Id() string
	Severity() Severity
	Direction() Direction

	// SafetyCritical controls the failure policy: a safety-critical rule
	// that errors or panics fails closed (the turn is blocked), any other
	// rule fails open (skipped with a log line).
	SafetyCritical() bool

	Evaluate(text string) (Result, error)
}

// PatternFile is the on-disk (embedded) shape of the default rule
// configuration: blocked patterns, PII regex families, and the toxicity
// keyword list.
type PatternFile struct {
	BlockedPatterns []string          `yaml:"blocked_patterns"`
	PIIPatterns     map[string]string `yaml:"pii_patterns"`
	ToxicKeywords   []string          `yaml:"toxic_keywords"`
}

// ParsePatternFile unmarshals and regex-compiles an embedded pattern file.
// It returns the compiled blocked patterns and PII families ready for rule
// construction, or an error if any regex is malformed.
func ParsePatternFile(raw []byte) (*PatternFile, []*regexp.Regexp, map[string]*regexp.Regexp, error) {
	var file PatternFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal the guardrail pattern file: %w", err)
	}

	blocked := make([]*regexp.Regexp, 0, len(file.BlockedPatterns))
	for _, p := range file.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to compile blocked pattern %q: %w", p, err)
		}
		blocked = append(blocked, re)
	}

	pii := make(map[string]*regexp.Regexp, len(file.PIIPatterns))
	for name, p := range file.PIIPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to compile PII pattern %q: %w", name, err)
		}
		pii[name] = re
	}

	return &file, blocked, pii, nil
}
