// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func ndjson(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, Message{Role: "user", Content: "Hello"}, NewUserMessage("Hello"))
	assert.Equal(t, Message{Role: "assistant", Content: "Hi"}, NewAssistantMessage("Hi"))
	assert.Equal(t, Message{Role: "system", Content: "Be brief"}, NewSystemMessage("Be brief"))
}

func TestOptions_ZeroTemperatureIsSent(t *testing.T) {
	data, err := json.Marshal(Options{Temperature: 0, NumPredict: 10})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"temperature":0`)
	assert.NotContains(t, string(data), "num_gpu")
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNewClientWithConfig_FillsDefaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{})
	assert.Equal(t, "http://127.0.0.1:11434", c.Config().BaseURL)
	assert.Equal(t, 30*time.Second, c.Config().Timeout)
	assert.Equal(t, "30m", c.Config().KeepAlive)

	assert.NotNil(t, NewClientWithConfig(nil).Config())
}

func TestCheckRunning(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	}))
	require.NoError(t, c.CheckRunning(context.Background()))
}

func TestCheckRunning_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: time.Second})
	err := c.CheckRunning(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		io.WriteString(w, `{"models":[{"name":"pocketllm:latest","size":1024,"details":{"family":"qwen2"}}]}`)
	}))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "pocketllm:latest", models[0].Name)
	assert.Equal(t, int64(1024), models[0].Size)
	assert.Equal(t, "qwen2", models[0].Details.Family)
}

func TestShowModel_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'x' not found"}`)
	}))

	_, err := c.ShowModel(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
}

func TestDeleteModel_MissingIsFine(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	require.NoError(t, c.DeleteModel(context.Background(), "gone"))
}

// =============================================================================
// CREATE / LOAD TESTS
// =============================================================================

func TestCreateFromFile_UploadsMissingBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("GGUF fake weights"), 0o644))
	digest, err := FileDigest(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(digest, "sha256:"))

	var (
		mu       sync.Mutex
		uploaded []byte
		created  CreateRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/blobs/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/blobs/"+digest, r.URL.Path)
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPost:
			mu.Lock()
			uploaded, _ = io.ReadAll(r.Body)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		}
	})
	mux.HandleFunc("/api/create", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&created)
		mu.Unlock()
		io.WriteString(w, `{"status":"success"}`)
	})
	c := newTestClient(t, mux)

	err = c.CreateFromFile(context.Background(), "pocketllm", path, map[string]any{"num_ctx": 2048})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "GGUF fake weights", string(uploaded))
	assert.Equal(t, "pocketllm", created.Model)
	assert.Equal(t, map[string]string{"model.gguf": digest}, created.Files)
	assert.EqualValues(t, 2048, created.Parameters["num_ctx"])
}

func TestCreateFromFile_SkipsExistingBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/blobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Error("blob uploaded although it already exists")
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/create", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success"}`)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.CreateFromFile(context.Background(), "m", path, nil))
}

func TestLoadModel_Rejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "", req.Prompt)
		assert.Equal(t, "30m", req.KeepAlive)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"invalid file magic"}`)
	}))

	err := c.LoadModel(context.Background(), "m", &Options{NumCtx: 2048})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file magic")
	assert.False(t, IsNotRunning(err))
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestChatStream_DeliversChunksInOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, []string{"<|end_of_sentence|>"}, req.Options.Stop)

		io.WriteString(w, ndjson(
			`{"model":"m","message":{"role":"assistant","content":"Hel"},"done":false}`,
			``,
			`not json`,
			`{"model":"m","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"m","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2}`,
		))
	}))

	var got []string
	var last StreamChunk
	err := c.ChatStream(context.Background(), ChatRequest{
		Model:    "m",
		Messages: []Message{NewUserMessage("hi")},
		Options:  &Options{Stop: []string{"<|end_of_sentence|>"}},
	}, func(chunk StreamChunk) {
		got = append(got, chunk.Content)
		last = chunk
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", ""}, got)
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.DoneReason)
	assert.Equal(t, 2, last.CompletionTokens)
}

func TestChatStream_ErrorLine(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ndjson(
			`{"message":{"content":"partial"},"done":false}`,
			`{"error":"out of memory"}`,
		))
	}))

	var got string
	err := c.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(chunk StreamChunk) {
		got += chunk.Content
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, "partial", got)
}

func TestChatStreamChan_ClosesAfterError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad request"}`)
	}))

	var chunks []StreamChunk
	for chunk := range c.ChatStreamChan(context.Background(), ChatRequest{Model: "m"}) {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Error)
	assert.Contains(t, chunks[0].Error.Error(), "bad request")
}

func TestStreamReader_TrailingLineWithoutNewline(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`{"model":"m","message":{"content":"x"},"done":true}`))

	var n int
	require.NoError(t, r.Process(context.Background(), func(StreamChunk) { n++ }))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.TokenCount())
	assert.Equal(t, "m", r.Model())
}

func TestStreamReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewStreamReader(strings.NewReader(ndjson(`{"message":{"content":"x"}}`)))
	err := r.Process(ctx, func(StreamChunk) { t.Error("callback after cancel") })
	assert.ErrorIs(t, err, context.Canceled)
}
