// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama API.
//
// pocketllm downloads its own GGUF artifact, so besides streaming chat the
// client can register a local file as an Ollama model: the file is uploaded as
// a content-addressed blob and a model is created from it.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ChatRequest / Options: streaming chat with sampling options
//   - StreamReader: line-delimited JSON reader for streamed responses
//   - StreamChunk: one decoded piece of a streamed response
//
// # Usage
//
//	client := ollama.NewClient()
//	if err := client.CreateFromFile(ctx, "my-model", "/models/model.gguf", nil); err != nil {
//	    return err
//	}
//	err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "my-model",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	}, func(chunk ollama.StreamChunk) {
//	    fmt.Print(chunk.Content)
//	})
package ollama
