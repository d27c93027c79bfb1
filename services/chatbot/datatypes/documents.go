// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire and domain types shared across the
// chatbot service: documents, chunks, conversation messages, sessions, and
// the request/response shapes of the HTTP API.
package datatypes

import "fmt"

// Document is a raw source document handed to the chunker. Documents are
// immutable once chunked; format-specific parsing (PDF, DOCX) happens
// upstream in the loaders, this type only carries the extracted text.
type Document struct {
	Id         string `json:"id"`
	SourcePath string `json:"source_path"`
	RawText    string `json:"raw_text"`
	FileType   string `json:"file_type"`
}

// ChunkMetadata carries provenance for a chunk, used for citations.
type ChunkMetadata struct {
	Source   string `json:"source"`
	Filename string `json:"filename"`
}

// Chunk is a bounded slice of a document, the unit of retrieval. Chunks are
// created during ingestion and never mutated; the chunk ID is derived from
// the parent document and offset so re-ingesting the same document upserts
// in place instead of duplicating.
type Chunk struct {
	Id         string        `json:"id"`
	DocumentId string        `json:"document_id"`
	Text       string        `json:"text"`
	Offset     int           `json:"offset"`
	Length     int           `json:"length"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkId builds the deterministic chunk identifier for a document offset.
func ChunkId(documentId string, offset int) string {
	return fmt.Sprintf("%s:%d", documentId, offset)
}

// RetrievedResult pairs a chunk with its similarity score for one query.
// Results are ephemeral and never persisted.
type RetrievedResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SourceInfo is the citation shape returned to callers. It is a projection
// of RetrievedResult that omits the full chunk text.
type SourceInfo struct {
	ChunkId  string  `json:"chunk_id"`
	Source   string  `json:"source"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

// NewSourceInfo projects a retrieval result into a citation, truncating the
// chunk text to a display snippet.
func NewSourceInfo(r RetrievedResult) SourceInfo {
	const snippetLen = 200
	snippet := r.Chunk.Text
	if runes := []rune(snippet); len(runes) > snippetLen {
		snippet = string(runes[:snippetLen]) + "..."
	}
	return SourceInfo{
		ChunkId:  r.Chunk.Id,
		Source:   r.Chunk.Metadata.Source,
		Filename: r.Chunk.Metadata.Filename,
		Score:    r.Score,
		Snippet:  snippet,
	}
}
