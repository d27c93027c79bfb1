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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/datatypes"
)

// ingestParallelism bounds concurrent file ingestion during a directory walk.
const ingestParallelism = 2

// Loader turns a file on disk into a Document. Format-specific parsing
// (PDF, DOCX) lives behind this interface; the pipeline itself only ships a
// plain-text loader.
type Loader interface {
	// Extensions returns the lowercase file extensions this loader handles,
	// including the dot.
	Extensions() []string

	Load(path string) (datatypes.Document, error)
}

// TextLoader reads plain-text and markdown files. The document ID is the
// cleaned source path, which keeps re-ingestion idempotent: the same file
// always produces the same chunk IDs.
type TextLoader struct{}

func (TextLoader) Extensions() []string { return []string{".txt", ".md"} }

func (TextLoader) Load(path string) (datatypes.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return datatypes.Document{}, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	clean := filepath.Clean(path)
	return datatypes.Document{
		Id:         clean,
		SourcePath: clean,
		RawText:    string(raw),
		FileType:   strings.ToLower(filepath.Ext(path)),
	}, nil
}

// Ingestor feeds documents into the index: load, chunk, upsert.
type Ingestor struct {
	index     *Index
	chunkSize int
	overlap   int
	loaders   map[string]Loader
}

// NewIngestor builds an ingestor over the given index and chunking
// parameters. Chunking parameters are validated lazily by SplitDocument on
// the first file.
func NewIngestor(ix *Index, chunkSize, overlap int, loaders ...Loader) *Ingestor {
	byExt := make(map[string]Loader)
	for _, l := range loaders {
		for _, ext := range l.Extensions() {
			byExt[ext] = l
		}
	}
	return &Ingestor{index: ix, chunkSize: chunkSize, overlap: overlap, loaders: byExt}
}

// IngestFile loads, chunks, and upserts a single file. Returns the number
// of chunks stored. Unsupported extensions are skipped with a zero count.
func (g *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	ctx, span := indexTracer.Start(ctx, "Ingestor.IngestFile")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.path", path))

	loader, ok := g.loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		slog.Debug("Skipping unsupported file format", "path", path)
		return 0, nil
	}

	doc, err := loader.Load(path)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	chunks, err := SplitDocument(doc, g.chunkSize, g.overlap)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := g.index.Upsert(ctx, chunks); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to index %s: %w", path, err)
	}
	slog.Info("Ingested document", "path", path, "chunks", len(chunks))
	return len(chunks), nil
}

// IngestDirectory walks dir recursively and ingests every supported file,
// a few files at a time. It returns the total chunk count; per-file errors
// are logged and do not abort the walk (a bad document must not keep the
// rest of the corpus out of the index).
func (g *Ingestor) IngestDirectory(ctx context.Context, dir string) (int, error) {
	ctx, span := indexTracer.Start(ctx, "Ingestor.IngestDirectory")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.dir", dir))

	if _, err := os.Stat(dir); err != nil {
		slog.Warn("Documents directory not found, starting with an empty index", "dir", dir)
		return 0, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := g.loaders[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to walk documents directory %s: %w", dir, err)
	}

	var total atomic.Int64
	gr, gctx := errgroup.WithContext(ctx)
	gr.SetLimit(ingestParallelism)
	for _, path := range paths {
		gr.Go(func() error {
			n, err := g.IngestFile(gctx, path)
			if err != nil {
				slog.Error("Failed to ingest document", "path", path, "error", err)
				return nil
			}
			total.Add(int64(n))
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		return int(total.Load()), err
	}
	slog.Info("Directory ingestion complete", "dir", dir, "files", len(paths), "chunks", total.Load())
	return int(total.Load()), nil
}
