// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/AleutianAI/AleutianConverse/services/storage/badger"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newBadgerStore(t)

	require.NoError(t, store.Save(ctx, "session:alice", []byte(`{"hi":1}`), 0))
	raw, err := store.Load(ctx, "session:alice")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"hi":1}`), raw)
}

func TestBadgerStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store := newBadgerStore(t)

	_, err := store.Load(ctx, "session:nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newBadgerStore(t)

	require.NoError(t, store.Save(ctx, "session:bob", []byte("x"), 0))
	require.NoError(t, store.Delete(ctx, "session:bob"))
	_, err := store.Load(ctx, "session:bob")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "session:bob"))
}

func TestBadgerStoreTTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TTL wait in short mode")
	}
	ctx := context.Background()
	store := newBadgerStore(t)

	require.NoError(t, store.Save(ctx, "session:carol", []byte("x"), time.Second))
	time.Sleep(2100 * time.Millisecond)
	_, err := store.Load(ctx, "session:carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStorePing(t *testing.T) {
	store := newBadgerStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
