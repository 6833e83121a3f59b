// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for pocketllm.
//
// Configuration is TOML on disk with environment variable overrides, sensible
// defaults and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ModelConfig: Where the model artifact comes from and how it is loaded
//   - RuntimeConfig: How to reach the local inference runtime (Ollama)
//   - GenerationConfig: Prompt, token budget, temperature and stop words
//   - StorageConfig: Chat store persistence backend
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (POCKETLLM_*)
//   - ~/.pocketllm/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	budget := cfg.Generation.MaxTokens
package config
