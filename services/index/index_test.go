// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
)

// =============================================================================
// Stub Embedder
// =============================================================================

// stubEmbedder returns canned vectors by exact text, or FallbackVector for
// anything else. FailOn simulates a provider outage for specific texts.
type stubEmbedder struct {
	mu             sync.Mutex
	Vectors        map[string][]float32
	FallbackVector []float32
	FailOn         map[string]bool
	CallCount      int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	if s.FailOn[text] {
		return nil, errors.New("embedding provider unavailable")
	}
	if v, ok := s.Vectors[text]; ok {
		return v, nil
	}
	if s.FallbackVector != nil {
		return s.FallbackVector, nil
	}
	return []float32{1, 0, 0}, nil
}

func chunkFor(id, text string) datatypes.Chunk {
	return datatypes.Chunk{
		Id:         id,
		DocumentId: "doc",
		Text:       text,
		Length:     len(text),
		Metadata:   datatypes.ChunkMetadata{Source: "doc.txt", Filename: "doc.txt"},
	}
}

// =============================================================================
// Upsert Tests
// =============================================================================

func TestUpsert_IdempotentOnChunkId(t *testing.T) {
	ix := NewIndex(&stubEmbedder{})
	c := chunkFor("doc:0", "hello world")

	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{c}))
	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{c}))

	assert.Equal(t, 1, ix.Len(), "re-upserting the same chunk id must not duplicate")
}

func TestUpsert_ReplaceKeepsIngestionPosition(t *testing.T) {
	emb := &stubEmbedder{
		Vectors: map[string][]float32{
			"query": {1, 0},
			"first": {1, 0},
			"other": {1, 0},
		},
		FallbackVector: []float32{1, 0},
	}
	ix := NewIndex(emb)

	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("doc:0", "first"),
		chunkFor("doc:10", "other"),
	}))
	// Replace the first chunk; every vector is identical, so ranking is
	// decided purely by ingestion order.
	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("doc:0", "first updated"),
	}))

	results, err := ix.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc:0", results[0].Chunk.Id, "replaced chunk keeps its original position")
	assert.Equal(t, "first updated", results[0].Chunk.Text)
}

func TestUpsert_PartialEmbedFailure(t *testing.T) {
	emb := &stubEmbedder{FailOn: map[string]bool{"bad chunk": true}}
	ix := NewIndex(emb)

	err := ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("doc:0", "good chunk"),
		chunkFor("doc:10", "bad chunk"),
	})

	require.Error(t, err, "embedding failures are reported")
	assert.Equal(t, 1, ix.Len(), "the healthy chunk is still stored")
}

// =============================================================================
// Search Tests
// =============================================================================

func TestSearch_RanksByCosineSimilarityDescending(t *testing.T) {
	emb := &stubEmbedder{
		Vectors: map[string][]float32{
			"the query":    {1, 0, 0},
			"close match":  {0.9, 0.1, 0},
			"far match":    {0, 1, 0},
			"middle match": {0.5, 0.5, 0},
		},
	}
	ix := NewIndex(emb)
	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("a", "far match"),
		chunkFor("b", "close match"),
		chunkFor("c", "middle match"),
	}))

	results, err := ix.Search(context.Background(), "the query", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].Chunk.Id)
	assert.Equal(t, "c", results[1].Chunk.Id)
	assert.Equal(t, "a", results[2].Chunk.Id)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_TiesBrokenByIngestionOrder(t *testing.T) {
	emb := &stubEmbedder{FallbackVector: []float32{1, 0}}
	ix := NewIndex(emb)
	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("first", "same text a"),
		chunkFor("second", "same text b"),
		chunkFor("third", "same text c"),
	}))

	results, err := ix.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Chunk.Id)
	assert.Equal(t, "second", results[1].Chunk.Id)
	assert.Equal(t, "third", results[2].Chunk.Id)
}

func TestSearch_InvalidTopK(t *testing.T) {
	ix := NewIndex(&stubEmbedder{})

	_, err := ix.Search(context.Background(), "q", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = ix.Search(context.Background(), "q", -3)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	ix := NewIndex(&stubEmbedder{})
	require.NoError(t, ix.Upsert(context.Background(), []datatypes.Chunk{
		chunkFor("only", "just one"),
	}))

	results, err := ix.Search(context.Background(), "q", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_QueryEmbedFailure(t *testing.T) {
	emb := &stubEmbedder{FailOn: map[string]bool{"broken query": true}}
	ix := NewIndex(emb)

	_, err := ix.Search(context.Background(), "broken query", 5)
	require.Error(t, err, "query embedding failure surfaces as a retrieval error")
}

// =============================================================================
// Cosine Similarity Tests
// =============================================================================

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), "dimension mismatch scores zero")
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}), "zero vector scores zero")
}
