// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/ollama"
)

// =============================================================================
// OLLAMA RUNTIME
// =============================================================================

// OllamaRuntime loads GGUF artifacts into a local Ollama server.
type OllamaRuntime struct {
	client *ollama.Client
	name   string
	opts   LoadOptions
	log    zerolog.Logger
}

// NewOllamaRuntime returns a runtime that registers artifacts under name.
func NewOllamaRuntime(client *ollama.Client, name string, opts LoadOptions, log zerolog.Logger) *OllamaRuntime {
	return &OllamaRuntime{client: client, name: name, opts: opts, log: log}
}

func (r *OllamaRuntime) options() *ollama.Options {
	return &ollama.Options{
		NumCtx:   r.opts.ContextSize,
		NumGPU:   r.opts.GPULayers,
		UseMlock: r.opts.UseMlock,
	}
}

// Load registers the file with Ollama and warms it into memory. A corrupt
// file surfaces here as an error from the create or the warm-up.
func (r *OllamaRuntime) Load(ctx context.Context, path string) (Model, error) {
	if err := r.client.CheckRunning(ctx); err != nil {
		return nil, unavailable(err)
	}

	params := map[string]any{"num_ctx": r.opts.ContextSize}
	r.log.Debug().Str("model", r.name).Str("path", path).Msg("registering model file")
	if err := r.client.CreateFromFile(ctx, r.name, path, params); err != nil {
		return nil, fmt.Errorf("create %s: %w", r.name, classify(err))
	}

	if err := r.client.LoadModel(ctx, r.name, r.options()); err != nil {
		return nil, fmt.Errorf("load %s: %w", r.name, classify(err))
	}
	r.log.Info().Str("model", r.name).Msg("model loaded")

	return &ollamaModel{runtime: r}, nil
}

// Unload removes the registered model from Ollama.
func (r *OllamaRuntime) Unload(ctx context.Context) error {
	if err := r.client.DeleteModel(ctx, r.name); err != nil {
		return fmt.Errorf("unload %s: %w", r.name, classify(err))
	}
	return nil
}

// classify marks transport failures as ErrRuntimeUnavailable. Status errors
// from Ollama pass through unchanged: those are verdicts on the artifact.
func classify(err error) error {
	if ollama.IsNotRunning(err) || ollama.IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
	}
	return err
}

func unavailable(err error) error {
	if errors.Is(err, ErrRuntimeUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
}

// =============================================================================
// OLLAMA MODEL
// =============================================================================

type ollamaModel struct {
	runtime *OllamaRuntime
}

func (m *ollamaModel) Name() string { return m.runtime.name }

func (m *ollamaModel) Complete(ctx context.Context, req CompletionRequest) (<-chan Delta, error) {
	opts := m.runtime.options()
	opts.Temperature = req.Temperature
	opts.NumPredict = req.MaxTokens
	opts.Stop = req.Stop

	msgs := make([]ollama.Message, 0, len(req.Messages)+1)
	if req.Prompt != "" {
		msgs = append(msgs, ollama.NewSystemMessage(req.Prompt))
	}
	for _, msg := range req.Messages {
		msgs = append(msgs, toOllama(msg))
	}

	chatReq := ollama.ChatRequest{
		Model:    m.runtime.name,
		Messages: msgs,
		Options:  opts,
	}

	out := make(chan Delta)
	go func() {
		defer close(out)

		send := func(d Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range m.runtime.client.ChatStreamChan(ctx, chatReq) {
			if chunk.Error != nil {
				send(Delta{Err: chunk.Error})
				return
			}
			if chunk.Content == "" {
				continue
			}
			if !send(Delta{Text: chunk.Content}) {
				return
			}
		}
	}()
	return out, nil
}

func toOllama(msg model.Message) ollama.Message {
	if msg.Role == model.RoleAssistant {
		return ollama.NewAssistantMessage(msg.Content)
	}
	return ollama.NewUserMessage(msg.Content)
}
