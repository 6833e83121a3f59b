// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: one user or assistant turn
//   - Conversation: an owned, titled, ordered list of messages
//
// # The merge rule
//
// Streaming produces many partial versions of one assistant answer.
// Conversation.Merge collapses them: an assistant message arriving after an
// assistant message replaces its content instead of adding a new one. Merging
// the same accumulated text twice is therefore harmless.
//
// # Titles
//
// New conversations are titled SentinelTitle. The first user message merged
// while the title is still the sentinel replaces it with a clipped copy of the
// message; after that the title never changes on its own.
package model
