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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestDirectory_LoadsSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(strings.Repeat("alpha ", 50)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# beta\nsome markdown"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pdf"), []byte("%PDF"), 0o644))

	ix := NewIndex(&stubEmbedder{})
	ing := NewIngestor(ix, 100, 20, TextLoader{})

	total, err := ing.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Greater(t, total, 0)
	assert.Equal(t, total, ix.Len())
}

func TestIngestDirectory_MissingDirIsNotFatal(t *testing.T) {
	ix := NewIndex(&stubEmbedder{})
	ing := NewIngestor(ix, 100, 20, TextLoader{})

	total, err := ing.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngestFile_UnsupportedExtensionSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o644))

	ix := NewIndex(&stubEmbedder{})
	ing := NewIngestor(ix, 100, 20, TextLoader{})

	n, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ix.Len())
}

func TestIngestFile_ReingestIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("gamma ", 100)), 0o644))

	ix := NewIndex(&stubEmbedder{})
	ing := NewIngestor(ix, 120, 30, TextLoader{})

	first, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)
	second, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, ix.Len(), "re-ingesting the same file replaces, never duplicates")
}
