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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocumentWatcher re-ingests documents when they change on disk. The whole
// directory tree is watched: fsnotify watches are non-recursive, so every
// subdirectory gets its own watch, including ones created later. Writes and
// creates are debounced per path so a file being actively saved by an
// editor is only ingested once the writes settle. Removes are ignored:
// chunks are deleted only on a full rebuild.
type DocumentWatcher struct {
	dir      string
	ingestor *Ingestor
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopOnce sync.Once
	done     chan struct{}
}

// NewDocumentWatcher creates a watcher over the documents directory. Call
// Start to begin watching and Stop to shut down.
func NewDocumentWatcher(dir string, ingestor *Ingestor, debounce time.Duration) (*DocumentWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DocumentWatcher{
		dir:      dir,
		ingestor: ingestor,
		watcher:  watcher,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the directory and all its subdirectories. The event
// loop exits when ctx is canceled or Stop is called.
func (w *DocumentWatcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.dir); err != nil {
		return err
	}
	slog.Info("Watching documents directory for changes", "dir", w.dir)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if event.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						w.addSubtree(ctx, event.Name)
						continue
					}
				}
				w.schedule(ctx, event.Name)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Document watcher error", "error", err)
			}
		}
	}()
	return nil
}

// watchTree adds a watch for dir and every directory below it.
func (w *DocumentWatcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// addSubtree handles a directory created (or moved in) after Start: its
// subdirectories need watches, and files that landed before the watch was in
// place never produced events, so the subtree is ingested directly.
func (w *DocumentWatcher) addSubtree(ctx context.Context, dir string) {
	if err := w.watchTree(dir); err != nil {
		slog.Error("Failed to watch new subdirectory", "dir", dir, "error", err)
		return
	}
	if _, err := w.ingestor.IngestDirectory(ctx, dir); err != nil {
		slog.Error("Failed to ingest new subdirectory", "dir", dir, "error", err)
	}
}

// schedule (re)arms the debounce timer for a path.
func (w *DocumentWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if _, err := w.ingestor.IngestFile(ctx, path); err != nil {
			slog.Error("Failed to re-ingest changed document", "path", path, "error", err)
		}
	})
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *DocumentWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			slog.Error("Failed to close the document watcher", "error", err)
		}
	})
}
