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
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
	"github.com/AleutianAI/AleutianConverse/services/llm"
)

var indexTracer = otel.Tracer("converse.index")

// ErrInvalidTopK is returned by Search when k is not positive.
var ErrInvalidTopK = errors.New("top-k must be positive")

// embedParallelism bounds concurrent embedding calls during upsert.
const embedParallelism = 4

// entry pairs a chunk with its embedding. The entries slice is kept in
// ingestion order; replacement on upsert happens in place, so a stable sort
// over a snapshot breaks score ties by ingestion order for free.
type entry struct {
	chunk  datatypes.Chunk
	vector []float32
}

// Index is the in-process vector index. It is read-mostly: many turns may
// search concurrently while ingestion holds the write lock only for the
// final insert (embedding happens outside the lock).
type Index struct {
	embedder llm.Embedder

	mu      sync.RWMutex
	entries []entry
	byId    map[string]int
}

// NewIndex creates an empty index backed by the given embedding provider.
func NewIndex(embedder llm.Embedder) *Index {
	return &Index{
		embedder: embedder,
		byId:     make(map[string]int),
	}
}

// Len returns the number of stored chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Upsert embeds each chunk and stores it. Upsert is idempotent on chunk ID:
// re-upserting replaces the stored entry in place, keeping its original
// ingestion position, so re-ingesting a document never duplicates chunks or
// perturbs tie-breaking order.
//
// Chunks are embedded with bounded parallelism. A chunk whose embedding
// fails is skipped; the remaining chunks are still stored and the combined
// error is returned.
func (ix *Index) Upsert(ctx context.Context, chunks []datatypes.Chunk) error {
	ctx, span := indexTracer.Start(ctx, "Index.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("index.upsert_count", len(chunks)))

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	var embedErrs []error
	var errMu sync.Mutex
	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := ix.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				errMu.Lock()
				embedErrs = append(embedErrs, fmt.Errorf("embed chunk %s: %w", chunk.Id, err))
				errMu.Unlock()
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	// Goroutines never return errors directly; failures are collected so
	// one bad chunk does not cancel its siblings.
	_ = g.Wait()

	ix.mu.Lock()
	stored := 0
	for i, chunk := range chunks {
		if vectors[i] == nil {
			continue
		}
		if pos, ok := ix.byId[chunk.Id]; ok {
			ix.entries[pos].chunk = chunk
			ix.entries[pos].vector = vectors[i]
		} else {
			ix.byId[chunk.Id] = len(ix.entries)
			ix.entries = append(ix.entries, entry{chunk: chunk, vector: vectors[i]})
		}
		stored++
	}
	ix.mu.Unlock()

	span.SetAttributes(attribute.Int("index.stored", stored))
	if len(embedErrs) > 0 {
		err := errors.Join(embedErrs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "some chunks failed to embed")
		slog.Warn("Upsert completed with embedding failures",
			"stored", stored, "failed", len(embedErrs))
		return err
	}
	return nil
}

// Search returns the k most similar chunks for the query, ranked by cosine
// similarity descending. Ties are broken by ingestion order (stable sort).
// Fewer than k results are returned when the index is smaller than k.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]datatypes.RetrievedResult, error) {
	ctx, span := indexTracer.Start(ctx, "Index.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("index.top_k", k))

	if k <= 0 {
		span.SetStatus(codes.Error, ErrInvalidTopK.Error())
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ix.mu.RLock()
	results := make([]datatypes.RetrievedResult, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, datatypes.RetrievedResult{
			Chunk: e.chunk,
			Score: cosineSimilarity(queryVec, e.vector),
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	span.SetAttributes(attribute.Int("index.results", len(results)))
	return results, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score zero rather than erroring;
// they only occur when the embedding model changed under a live index.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
