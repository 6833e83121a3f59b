// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inferencetest provides scripted runtimes and models for tests.
package inferencetest

import (
	"context"
	"sync"

	"github.com/jeranaias/pocketllm/internal/inference"
)

// Model replays Deltas for every Complete call and records the requests.
type Model struct {
	ModelName string
	Deltas    []inference.Delta

	// Gate, when set, is received from before each delta is sent.
	Gate chan struct{}

	mu       sync.Mutex
	requests []inference.CompletionRequest
}

// NewModel returns a model that streams the given texts.
func NewModel(texts ...string) *Model {
	m := &Model{ModelName: "scripted"}
	for _, t := range texts {
		m.Deltas = append(m.Deltas, inference.Delta{Text: t})
	}
	return m
}

// Name implements inference.Model.
func (m *Model) Name() string { return m.ModelName }

// Complete implements inference.Model.
func (m *Model) Complete(ctx context.Context, req inference.CompletionRequest) (<-chan inference.Delta, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	deltas := append([]inference.Delta(nil), m.Deltas...)
	m.mu.Unlock()

	out := make(chan inference.Delta)
	go func() {
		defer close(out)
		for _, d := range deltas {
			if m.Gate != nil {
				select {
				case <-m.Gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Requests returns the completion requests seen so far.
func (m *Model) Requests() []inference.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inference.CompletionRequest(nil), m.requests...)
}

// Runtime returns Model from Load, or Err when set.
type Runtime struct {
	Model inference.Model
	Err   error

	mu    sync.Mutex
	paths []string
}

// Load implements inference.Runtime.
func (r *Runtime) Load(ctx context.Context, path string) (inference.Model, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Model, nil
}

// Loads returns the paths passed to Load.
func (r *Runtime) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}
