// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatstore owns every conversation and the per-user session view.
//
// The Store is the single writer for chat state. Mutations take an explicit
// conversation id, so a reply can keep streaming into a conversation the user
// has switched away from. Persister saves the conversations (and only the
// conversations) as one JSON blob.
package chatstore
