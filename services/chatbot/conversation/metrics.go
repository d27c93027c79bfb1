// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// turnsTotal counts finished turns by terminal outcome.
	// Labels: outcome (completed, blocked_input, blocked_output, generation_failed)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "turns_total",
		Help:      "Total conversation turns by terminal outcome",
	}, []string{"outcome"})

	// turnDuration measures end-to-end turn latency.
	// Labels: outcome
	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end conversation turn latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"outcome"})

	// turnsInFlight tracks turns currently inside the state machine.
	turnsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "turns_in_flight",
		Help:      "Conversation turns currently being processed",
	})

	// guardrailViolations counts guardrail hits across both directions.
	// Labels: rule_id, severity, field (input, output)
	guardrailViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converse",
		Subsystem: "guardrails",
		Name:      "violations_total",
		Help:      "Total guardrail violations by rule and severity",
	}, []string{"rule_id", "severity", "field"})

	// llmRetries counts generation attempts beyond the first.
	llmRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "llm_retries_total",
		Help:      "Total LLM generation retries after a failed attempt",
	})

	// retrievalResults tracks how many chunks retrieval contributed per turn.
	retrievalResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "retrieval_results",
		Help:      "Number of retrieved chunks contributed to a turn's prompt",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// retrievalDegraded counts turns that proceeded without context because
	// the index was unavailable.
	retrievalDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "converse",
		Subsystem: "orchestrator",
		Name:      "retrieval_degraded_total",
		Help:      "Total turns that degraded to zero-context generation",
	})
)
