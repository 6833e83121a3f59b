// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Command installer builds pocketllm-setup, the guided first run.

The interactive mode is a Bubble Tea program with three screens:

  - Checks: Ollama reachability, the model's remote size and free disk space
  - Setup: download, verification and load, with a progress bar
  - Result: how to start chatting, or why setup failed

A failed check blocks setup. A default config is written when none exists.

# Usage

	go build -o pocketllm-setup ./cmd/installer
	pocketllm-setup            # interactive
	pocketllm-setup --text     # plain output, also used without a terminal
*/
package main
