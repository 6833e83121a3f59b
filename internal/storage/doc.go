// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key/value blob persistence for pocketllm.
//
// The chat store serializes its conversations into a single blob under a
// fixed root key; this package only moves bytes. Two backends exist:
//
//   - FileStore: one JSON file per key, written atomically with fsync
//   - SQLiteStore: a single kv table in an SQLite database (pure Go driver)
//
// # Usage
//
//	store, err := storage.Open("sqlite", "/home/me/.pocketllm/chats.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	data, err := store.Load(ctx, "root")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // first run
//	}
package storage
