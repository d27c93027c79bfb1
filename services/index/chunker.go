// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index implements the retrieval side of the pipeline: splitting
// documents into overlapping chunks, embedding them, and serving top-K
// cosine-similarity search over the in-process index.
package index

import (
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
)

// SplitDocument slides a window of chunkSize characters over the document
// text with the given overlap between adjacent windows. The last window may
// be shorter than chunkSize. Offsets and sizes are in characters (runes),
// not bytes, so multi-byte text chunks cleanly.
//
// Returns an invalid-argument error unless 0 <= overlap < chunkSize.
func SplitDocument(doc datatypes.Document, chunkSize, overlap int) ([]datatypes.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < chunk size, got overlap=%d size=%d", overlap, chunkSize)
	}

	runes := []rune(doc.RawText)
	if len(runes) == 0 {
		return nil, nil
	}

	meta := datatypes.ChunkMetadata{
		Source:   doc.SourcePath,
		Filename: filepath.Base(doc.SourcePath),
	}

	stride := chunkSize - overlap
	var chunks []datatypes.Chunk
	for offset := 0; offset < len(runes); offset += stride {
		end := offset + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, datatypes.Chunk{
			Id:         datatypes.ChunkId(doc.Id, offset),
			DocumentId: doc.Id,
			Text:       string(runes[offset:end]),
			Offset:     offset,
			Length:     end - offset,
			Metadata:   meta,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
