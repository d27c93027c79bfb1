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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
)

const promptInstructions = "Use the context below to answer the question. " +
	"Cite the source file in parentheses for any fact you take from the context. " +
	"If the context does not contain the answer, say that you do not know instead of guessing."

// BuildPrompt assembles the generation prompt from the retrieved chunks, the
// formatted conversation history, and the user's question. It is a pure
// function so truncation and layout can be tested without any providers.
func BuildPrompt(question, history string, retrieved []datatypes.RetrievedResult) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\n")

	if len(retrieved) > 0 {
		b.WriteString("Context:\n")
		for i, r := range retrieved {
			source := r.Chunk.Metadata.Filename
			if source == "" {
				source = r.Chunk.Metadata.Source
			}
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, source, r.Chunk.Text)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Context: none available.\n\n")
	}

	if history != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
