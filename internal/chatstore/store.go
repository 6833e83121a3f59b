// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"sync"
	"time"

	"github.com/jeranaias/pocketllm/internal/model"
)

// Options configures a Store. Every field is optional.
type Options struct {
	IDs IDSource
	Now func() time.Time
	// OnChange runs after every mutation that changed the conversations,
	// outside the store lock.
	OnChange func()
}

// Store holds every conversation, the signed-in user and the active
// conversation. All methods are safe for concurrent use and see each other
// atomically.
//
// Operations that name a conversation the current user does not own, or that
// need a signed-in user when there is none, do nothing. They never fail.
type Store struct {
	ids      IDSource
	now      func() time.Time
	onChange func()

	mu sync.Mutex
	// convs is ordered newest first.
	convs   []*model.Conversation
	user    string
	active  string
	visible []model.Message
}

// New creates an empty store with no signed-in user.
func New(opts Options) *Store {
	if opts.IDs == nil {
		opts.IDs = NewCounterSource()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{ids: opts.IDs, now: opts.Now, onChange: opts.OnChange}
}

// SetOnChange replaces the change hook.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// mutate runs fn under the lock and fires the change hook when fn reports a
// change to the conversations.
func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	hook := s.onChange
	s.mu.Unlock()

	if changed && hook != nil {
		hook()
	}
}

// =============================================================================
// LOOKUPS (caller holds mu)
// =============================================================================

func (s *Store) find(id string) (int, *model.Conversation) {
	for i, c := range s.convs {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// owned returns the conversation when the current user owns it.
func (s *Store) owned(id string) *model.Conversation {
	if s.user == "" {
		return nil
	}
	if _, c := s.find(id); c != nil && c.OwnerID == s.user {
		return c
	}
	return nil
}

// newestOwned relies on convs being newest first.
func (s *Store) newestOwned() *model.Conversation {
	for _, c := range s.convs {
		if c.OwnerID == s.user {
			return c
		}
	}
	return nil
}

func (s *Store) activate(c *model.Conversation) {
	if c == nil {
		s.active = ""
		s.visible = nil
		return
	}
	s.active = c.ID
	s.visible = c.History()
}

// =============================================================================
// SESSION
// =============================================================================

// SetCurrentUser signs id in and selects their newest conversation, if any.
// An empty id behaves like Logout.
func (s *Store) SetCurrentUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = id
	if id == "" {
		s.activate(nil)
		return
	}
	s.activate(s.newestOwned())
}

// Logout clears the user and the active conversation. Conversations stay.
func (s *Store) Logout() {
	s.SetCurrentUser("")
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation starts an empty conversation for the current user and
// makes it active. It returns false when nobody is signed in.
func (s *Store) CreateConversation() (string, bool) {
	var id string
	s.mutate(func() bool {
		if s.user == "" {
			return false
		}
		c := model.NewConversation(s.ids.NextID(), s.user, s.now())
		s.convs = append([]*model.Conversation{c}, s.convs...)
		s.activate(c)
		id = c.ID
		return true
	})
	return id, id != ""
}

// SetActive switches to conversation id if the current user owns it.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.owned(id); c != nil {
		s.activate(c)
	}
}

// AppendOrMergeMessage applies msg to conversation convID. An assistant
// message following an assistant message replaces it, which is how streamed
// output lands as one message. The first user message sets the title.
func (s *Store) AppendOrMergeMessage(convID string, msg model.Message) {
	s.mutate(func() bool {
		c := s.owned(convID)
		if c == nil {
			return false
		}
		c.Merge(msg)
		if c.ID == s.active {
			s.visible = c.History()
		}
		return true
	})
}

// DeleteConversation removes conversation id. Deleting the active one selects
// the newest remaining conversation of the user.
func (s *Store) DeleteConversation(id string) {
	s.mutate(func() bool {
		if s.owned(id) == nil {
			return false
		}
		i, _ := s.find(id)
		s.convs = append(s.convs[:i], s.convs[i+1:]...)
		if s.active == id {
			s.activate(s.newestOwned())
		}
		return true
	})
}

// SetMessages replaces the messages of the active conversation.
func (s *Store) SetMessages(msgs []model.Message) {
	s.mutate(func() bool {
		c := s.owned(s.active)
		if c == nil {
			return false
		}
		c.Messages = append([]model.Message{}, msgs...)
		s.visible = c.History()
		return true
	})
}

// ClearMessages empties the active conversation. The title is kept.
func (s *Store) ClearMessages() {
	s.SetMessages(nil)
}

// =============================================================================
// QUERIES
// =============================================================================

// CurrentUser returns the signed-in user id, or "".
func (s *Store) CurrentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// ActiveID returns the active conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Visible returns a copy of the active conversation's messages.
func (s *Store) Visible() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.visible...)
}

// Conversations lists the current user's conversations, newest first.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == "" {
		return nil
	}
	var out []*model.Conversation
	for _, c := range s.convs {
		if c.OwnerID == s.user {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Conversation returns a copy of conversation id if the current user owns it.
func (s *Store) Conversation(id string) (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.owned(id)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

// Len returns the number of stored conversations across all users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
