// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to Markdown or JSON files.
//
// Assistant replies go through the output parser: code fences are kept
// exactly as generated, and <think> reasoning is dropped unless
// Options.IncludeReasoning is set.
//
// # Usage
//
//	exp, err := export.ForFormat("md", opts)
//	path, err := export.ToFile(conv, exp, opts)
package export
