// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the pocketllm packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe whole-file writes with fsync
//   - NewAtomicWriter: the same guarantee for streamed content (model downloads)
//
// String Utilities:
//   - ClipRunes: UTF-8 safe truncation with an optional suffix
//   - SingleLine: collapse line breaks for one-line previews
//   - FitWidth: display-width aware truncation for terminal columns
//
// # Usage
//
//	w, err := util.NewAtomicWriter(path, 0644)
//	if err != nil {
//	    return err
//	}
//	defer w.Abort()
//	if _, err := io.Copy(w, body); err != nil {
//	    return err
//	}
//	return w.Commit()
package util
