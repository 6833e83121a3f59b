// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inference is the boundary between pocketllm and the runtime that
// actually executes the model. The rest of the module only sees Runtime,
// Model and a channel of Delta values.
package inference

import (
	"context"
	"errors"

	"github.com/jeranaias/pocketllm/internal/model"
)

var (
	// ErrNotLoaded is returned when a completion is requested from a model
	// that has been released.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrRuntimeUnavailable wraps failures to reach the runtime at all. The
	// artifact was never judged, so callers must not treat it as rejected.
	ErrRuntimeUnavailable = errors.New("inference runtime unavailable")
)

// Delta is one piece of generated text. A Delta with Err set is the last value
// sent before the channel closes.
type Delta struct {
	Text string
	Err  error
}

// CompletionRequest asks a loaded model to continue a conversation.
type CompletionRequest struct {
	// Prompt is the system preamble sent ahead of Messages.
	Prompt   string
	Messages []model.Message

	MaxTokens   int
	Temperature float64
	Stop        []string
}

// LoadOptions are passed to the runtime when an artifact is loaded.
type LoadOptions struct {
	ContextSize int
	GPULayers   int
	UseMlock    bool
}

// DefaultLoadOptions suits the 1.5B chat model.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{ContextSize: 2048, GPULayers: 1, UseMlock: true}
}

// Runtime turns a model file on disk into a usable Model.
type Runtime interface {
	Load(ctx context.Context, path string) (Model, error)
}

// Model is a loaded model. Implementations must allow concurrent Complete
// calls once loaded.
type Model interface {
	// Name identifies the model inside the runtime.
	Name() string

	// Complete starts a generation. Deltas arrive in emission order and the
	// channel is closed when generation ends. Cancelling ctx stops the
	// producer; the channel is still closed.
	Complete(ctx context.Context, req CompletionRequest) (<-chan Delta, error)
}
