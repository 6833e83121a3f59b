// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jeranaias/pocketllm/internal/model"
)

// RootKey is the key the serialized store lives under, both in the blob
// store and as the top-level JSON field.
const RootKey = "root"

// snapshot is {"root":{"chat":{"conversations":[...]}}}. Session fields such
// as the user and active conversation are deliberately absent.
type snapshot struct {
	Root struct {
		Chat struct {
			Conversations []*model.Conversation `json:"conversations"`
		} `json:"chat"`
	} `json:"root"`
}

// Snapshot serializes all conversations, newest first.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	var snap snapshot
	snap.Root.Chat.Conversations = make([]*model.Conversation, len(s.convs))
	for i, c := range s.convs {
		snap.Root.Chat.Conversations[i] = c.Clone()
	}
	s.mu.Unlock()

	return json.Marshal(&snap)
}

// Restore replaces all conversations with those in data. The signed-in user
// stays; their active conversation is chosen again.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode chat snapshot: %w", err)
	}

	seen := make(map[string]bool)
	convs := make([]*model.Conversation, 0, len(snap.Root.Chat.Conversations))
	for _, c := range snap.Root.Chat.Conversations {
		if c == nil || c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []model.Message{}
		}
		if c.Title == "" {
			c.Title = model.SentinelTitle
		}
		convs = append(convs, c)
	}
	// Newest first, whatever order the blob was written in. Ties keep it.
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	if cs, ok := s.ids.(*CounterSource); ok {
		for _, c := range convs {
			cs.Observe(c.ID)
		}
	}

	s.mu.Lock()
	s.convs = convs
	if s.user != "" {
		s.activate(s.newestOwned())
	}
	s.mu.Unlock()
	return nil
}
