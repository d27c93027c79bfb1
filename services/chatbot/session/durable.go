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
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by DurableStore.Load when the key does not exist
// or its TTL has elapsed.
var ErrNotFound = errors.New("session not found in durable store")

// DurableStore is the key-value contract the session store persists
// through. Values are whole serialized session records; Save replaces the
// record atomically, which combined with per-user serialization in the
// Store rules out lost updates.
type DurableStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is currently reachable. Used by the
	// probe that drives durable/degraded mode transitions.
	Ping(ctx context.Context) error
}

// BadgerStore implements DurableStore over an embedded BadgerDB. Badger's
// native per-key TTL makes expired sessions invisible without an eviction
// pass; an expired key surfaces as ErrNotFound like any other miss.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an opened BadgerDB. The caller owns the DB lifecycle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Load implements DurableStore.
func (b *BadgerStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger load %s: %w", key, err)
	}
	return value, nil
}

// Save implements DurableStore. A non-positive ttl stores the record
// without expiry.
func (b *BadgerStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger save %s: %w", key, err)
	}
	return nil
}

// Delete implements DurableStore. Deleting a missing key is not an error.
func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Ping implements DurableStore with an empty read transaction.
func (b *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return b.db.View(func(txn *badger.Txn) error { return nil })
}
