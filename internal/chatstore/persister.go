// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/pocketllm/internal/storage"
)

// saveTimeout bounds background saves, which have no caller context.
const saveTimeout = 10 * time.Second

// Persister keeps a Store saved in a BlobStore.
//
// After Attach every change schedules a save. With a zero Debounce the save
// happens inside the change hook; otherwise changes within the window are
// coalesced, which matters while a reply streams in. Flush writes anything
// pending.
type Persister struct {
	store    *Store
	blobs    storage.BlobStore
	log      zerolog.Logger
	Debounce time.Duration

	// saveMu keeps snapshot and write together so saves land in order.
	saveMu sync.Mutex

	mu      sync.Mutex
	dirty   bool
	timer   *time.Timer
	lastErr error
}

// NewPersister binds store to blobs.
func NewPersister(store *Store, blobs storage.BlobStore, log zerolog.Logger) *Persister {
	return &Persister{store: store, blobs: blobs, log: log}
}

// Load restores the store from the blob store. A missing blob leaves the store
// empty and is not an error.
func (p *Persister) Load(ctx context.Context) error {
	data, err := p.blobs.Load(ctx, RootKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.store.Restore(data); err != nil {
		return err
	}
	p.log.Debug().Int("conversations", p.store.Len()).Msg("chat store restored")
	return nil
}

// Attach subscribes to store changes.
func (p *Persister) Attach() {
	p.store.SetOnChange(p.changed)
}

// Detach stops saving on change. Pending changes still need a Flush.
func (p *Persister) Detach() {
	p.store.SetOnChange(nil)
}

func (p *Persister) changed() {
	p.mu.Lock()
	p.dirty = true
	if p.Debounce <= 0 {
		p.mu.Unlock()
		p.saveBackground()
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.Debounce, p.saveBackground)
	}
	p.mu.Unlock()
}

func (p *Persister) saveBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to save chat store")
	}
}

// Flush saves the store if anything changed since the last save.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	p.dirty = false
	p.mu.Unlock()

	err := p.Save(ctx)
	if err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
	}
	return err
}

// Save writes the current snapshot unconditionally.
func (p *Persister) Save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	data, err := p.store.Snapshot()
	if err != nil {
		return err
	}
	err = p.blobs.Save(ctx, RootKey, data)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// Err returns the error of the most recent save, if it failed.
func (p *Persister) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
