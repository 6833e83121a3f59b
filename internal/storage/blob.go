// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrNotFound is returned when no blob is stored under a key.
var ErrNotFound = errors.New("blob not found")

// KeyError reports an unusable blob key.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid blob key %q", e.Key)
}

// =============================================================================
// BLOB STORE
// =============================================================================

// BlobStore loads and saves opaque blobs by key.
type BlobStore interface {
	// Load returns ErrNotFound when the key has never been saved.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	// Delete is a no-op for unknown keys.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the backend named by kind ("file" or "sqlite") rooted at path.
func Open(kind, path string) (BlobStore, error) {
	switch kind {
	case "file", "":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// Keys double as file names, so they are restricted to a safe alphabet.
var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return &KeyError{Key: key}
	}
	return nil
}
