// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/pocketllm/internal/util"
)

const (
	// SentinelTitle is the placeholder title of a new conversation.
	SentinelTitle = "New Chat"

	// TitleRunes is how many characters of the first user message become the
	// title.
	TitleRunes = 30
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one chat thread and its owner.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerID   string    `json:"ownerId"`
}

// NewConversation creates an empty conversation with the sentinel title.
func NewConversation(id, ownerID string, createdAt time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Title:     SentinelTitle,
		Messages:  []Message{},
		CreatedAt: createdAt,
		OwnerID:   ownerID,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Merge applies msg to the conversation. An assistant message following an
// assistant message replaces that message's content; anything else is
// appended. It returns true when the merge also set the title.
func (c *Conversation) Merge(msg Message) bool {
	if n := len(c.Messages); n > 0 && msg.Role == RoleAssistant && c.Messages[n-1].Role == RoleAssistant {
		c.Messages[n-1] = Message{Role: RoleAssistant, Content: msg.Content}
		return false
	}
	c.Messages = append(c.Messages, msg)

	if msg.Role == RoleUser && c.Title == SentinelTitle {
		c.Title = DeriveTitle(msg.Content)
		return true
	}
	return false
}

// LastMessage returns the final message, if any.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// History returns a copy of the messages.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Preview returns a one-line preview of the first user message.
func (c *Conversation) Preview(maxRunes int) string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(maxRunes)
		}
	}
	return ""
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = c.History()
	return &clone
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// DeriveTitle builds a title from message content: the first TitleRunes
// characters, with "..." appended when anything was cut. Content is put in
// NFC first so a combining accent is never split from its letter.
func DeriveTitle(content string) string {
	return util.ClipRunes(norm.NFC.String(content), TitleRunes, "...")
}
