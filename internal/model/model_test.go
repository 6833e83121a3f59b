// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MERGE TESTS
// =============================================================================

func TestConversation_MergeAppendsAndReplaces(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())

	c.Merge(UserMessage("hi"))
	c.Merge(AssistantMessage("He"))
	c.Merge(AssistantMessage("Hello"))
	c.Merge(AssistantMessage("Hello!"))

	if len(c.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(c.Messages))
	}
	if c.Messages[1].Content != "Hello!" {
		t.Errorf("assistant content = %q, want %q", c.Messages[1].Content, "Hello!")
	}
}

func TestConversation_MergeIdempotent(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	c.Merge(UserMessage("q"))

	c.Merge(AssistantMessage("final"))
	c.Merge(AssistantMessage("final"))

	if len(c.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(c.Messages))
	}
	if c.Messages[1].Content != "final" {
		t.Errorf("content = %q, want %q", c.Messages[1].Content, "final")
	}
}

func TestConversation_UserMessagesAlwaysAppend(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	c.Merge(UserMessage("a"))
	c.Merge(UserMessage("a"))

	if len(c.Messages) != 2 {
		t.Errorf("len(Messages) = %d, want 2", len(c.Messages))
	}
}

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestConversation_TitleDerivedOnce(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	if c.Title != SentinelTitle {
		t.Fatalf("Title = %q, want %q", c.Title, SentinelTitle)
	}

	// Assistant messages never set the title.
	if c.Merge(AssistantMessage("greeting")) {
		t.Error("assistant merge reported a title change")
	}
	if c.Title != SentinelTitle {
		t.Errorf("Title = %q after assistant message", c.Title)
	}

	if !c.Merge(UserMessage("first question")) {
		t.Error("first user merge should set the title")
	}
	if c.Title != "first question" {
		t.Errorf("Title = %q, want %q", c.Title, "first question")
	}

	if c.Merge(UserMessage("second question")) {
		t.Error("second user merge reported a title change")
	}
	if c.Title != "first question" {
		t.Errorf("Title changed to %q", c.Title)
	}
}

func TestConversation_CustomTitleNotOverwritten(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	c.Title = "Renamed"
	c.Merge(UserMessage("hello"))

	if c.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", c.Title, "Renamed")
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "hello", "hello"},
		{"exactly 30", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"31", strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{"multibyte", strings.Repeat("\u00e9", 40), strings.Repeat("\u00e9", 30) + "..."},
		// "e" + combining acute composes to one character.
		{"decomposed", strings.Repeat("e\u0301", 31), strings.Repeat("\u00e9", 30) + "..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.content); got != tc.want {
				t.Errorf("DeriveTitle = %q, want %q", got, tc.want)
			}
		})
	}
}

// =============================================================================
// ACCESSOR TESTS
// =============================================================================

func TestConversation_CloneIsDeep(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	c.Merge(UserMessage("x"))

	clone := c.Clone()
	clone.Messages[0].Content = "changed"

	if c.Messages[0].Content != "x" {
		t.Error("Clone shares the message slice")
	}
}

func TestConversation_PreviewAndLast(t *testing.T) {
	c := NewConversation("1", "u1", time.Now())
	if _, ok := c.LastMessage(); ok {
		t.Error("LastMessage on empty conversation should report false")
	}
	if c.Preview(10) != "" {
		t.Error("Preview of empty conversation should be empty")
	}

	c.Merge(UserMessage("line one\nline two is long"))
	c.Merge(AssistantMessage("ok"))

	last, ok := c.LastMessage()
	if !ok || last.Role != RoleAssistant {
		t.Errorf("LastMessage = %+v, %v", last, ok)
	}
	if got := c.Preview(12); got != "line one lin..." {
		t.Errorf("Preview = %q", got)
	}
}

func TestRole_DisplayName(t *testing.T) {
	if RoleUser.DisplayName() != "You" || RoleAssistant.DisplayName() != "Assistant" {
		t.Error("unexpected display names")
	}
	if Role("system").Valid() {
		t.Error("system should not be a valid chat role")
	}
}
