// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pocketllm/internal/chatstore"
	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/conversation"
	"github.com/jeranaias/pocketllm/internal/identity"
	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/inference/inferencetest"
	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/ollama"
	"github.com/jeranaias/pocketllm/internal/output"
	"github.com/jeranaias/pocketllm/internal/provision"
)

// =============================================================================
// PARSE
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		argv []string
		want Command
	}{
		{nil, CmdChat},
		{[]string{"chat"}, CmdChat},
		{[]string{"--user", "bob"}, CmdChat},
		{[]string{"pull"}, CmdPull},
		{[]string{"s"}, CmdStatus},
		{[]string{"ls"}, CmdList},
		{[]string{"export", "--format", "json"}, CmdExport},
		{[]string{"config", "init"}, CmdConfig},
		{[]string{"serve-metrics"}, CmdServeMetrics},
		{[]string{"reset", "--yes"}, CmdReset},
		{[]string{"--version"}, CmdVersion},
		{[]string{"-h"}, CmdHelp},
		{[]string{"frobnicate"}, CmdUnknown},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.argv, " "), func(t *testing.T) {
			got, _ := Parse(tt.argv)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_FlagsAfterCommand(t *testing.T) {
	cmd, args := Parse([]string{"chat", "--reasoning", "--conv", "42", "--config=/tmp/c.toml"})
	assert.Equal(t, CmdChat, cmd)
	assert.True(t, args.BoolFlag("reasoning"))
	assert.Equal(t, "42", args.Flag("conv"))
	assert.Equal(t, "/tmp/c.toml", args.Flag("config"))
}

func TestArgParser_BoolNeverConsumesValue(t *testing.T) {
	p := NewArgParser([]string{"--yes", "init", "-v"}, boolFlags...)
	assert.True(t, p.BoolFlag("yes", "y"))
	assert.True(t, p.BoolFlag("verbose", "v"))
	assert.Equal(t, "init", p.Subcommand())
}

func TestArgParser_DoubleDash(t *testing.T) {
	p := NewArgParser([]string{"--user", "a", "--", "--not-a-flag"})
	assert.Equal(t, "a", p.Flag("user"))
	assert.Equal(t, []string{"--not-a-flag"}, p.PositionalFrom(0))
	assert.Equal(t, 7, p.FlagIntOrDefault("missing", 7))
}

// =============================================================================
// CHAT SESSION
// =============================================================================

type staticModels struct{ m inference.Model }

func (s staticModels) Model() inference.Model { return s.m }

func newSession(t *testing.T, m inference.Model) (*ChatSession, *chatstore.Store, *bytes.Buffer) {
	t.Helper()
	store := chatstore.New(chatstore.Options{})
	binder := identity.NewBinder(store, zerolog.Nop())
	require.NoError(t, binder.SignIn(identity.User{ID: "u1"}))

	ctrl := conversation.New(conversation.Options{
		Store:     store,
		Models:    staticModels{m},
		MaxTokens: 100,
		Logger:    zerolog.Nop(),
	})
	var out bytes.Buffer
	return NewChatSession(store, binder, ctrl, &Renderer{}, &out), store, &out
}

func TestChatSession_SendCreatesConversation(t *testing.T) {
	m := inferencetest.NewModel("<think>plan</think>", "Hello ", "**there**")
	s, store, out := newSession(t, m)

	require.NoError(t, s.Execute(context.Background(), "hi"))

	assert.NotEmpty(t, store.ActiveID())
	msgs := store.Visible()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.UserMessage("hi"), msgs[0])
	assert.Equal(t, "<think>plan</think>Hello **there**", msgs[1].Content)

	text := out.String()
	assert.Contains(t, text, "Assistant:")
	assert.Contains(t, text, "Hello **there**")
	assert.NotContains(t, text, "plan", "reasoning is hidden by default")
}

func TestChatSession_CopyAndReasoning(t *testing.T) {
	m := inferencetest.NewModel("<think>plan</think>Run:\n```sh\nls\n```")
	s, _, out := newSession(t, m)
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "/copy"))
	assert.Contains(t, out.String(), "Nothing to copy")

	require.NoError(t, s.Execute(ctx, "/reasoning"))
	require.NoError(t, s.Execute(ctx, "list files"))
	assert.Contains(t, out.String(), "plan")

	out.Reset()
	require.NoError(t, s.Execute(ctx, "/copy"))
	assert.Equal(t, "Run:\n```sh\nls\n```\n", out.String())
}

func TestChatSession_ModelNotReady(t *testing.T) {
	s, store, out := newSession(t, nil)

	require.NoError(t, s.Execute(context.Background(), "hello"))
	assert.Contains(t, out.String(), "model not ready")
	assert.Empty(t, store.Visible())
}

func TestChatSession_ListSwitchDelete(t *testing.T) {
	s, store, out := newSession(t, inferencetest.NewModel("ok"))
	ctx := context.Background()

	older, ok := store.CreateConversation()
	require.True(t, ok)
	store.AppendOrMergeMessage(older, model.UserMessage("first topic"))
	newer, ok := store.CreateConversation()
	require.True(t, ok)
	require.Equal(t, newer, store.ActiveID())

	require.NoError(t, s.Execute(ctx, "/list"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], model.SentinelTitle)
	assert.Contains(t, lines[1], "first topic")

	require.NoError(t, s.Execute(ctx, "/switch 2"))
	assert.Equal(t, older, store.ActiveID())

	out.Reset()
	require.NoError(t, s.Execute(ctx, "/switch 9"))
	assert.Contains(t, out.String(), "pick a number")
	assert.Equal(t, older, store.ActiveID())

	require.NoError(t, s.Execute(ctx, "/delete 1"))
	convs := store.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, older, convs[0].ID)
}

func TestChatSession_ClearNewLogout(t *testing.T) {
	s, store, out := newSession(t, inferencetest.NewModel("ok"))
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "question"))
	require.Len(t, store.Visible(), 2)

	require.NoError(t, s.Execute(ctx, "/clear"))
	assert.Empty(t, store.Visible())

	require.NoError(t, s.Execute(ctx, "/new"))
	assert.Len(t, store.Conversations(), 2)

	err := s.Execute(ctx, "/logout")
	assert.ErrorIs(t, err, errQuit)
	assert.Empty(t, store.CurrentUser())
	assert.Equal(t, 2, store.Len(), "conversations survive logout")

	out.Reset()
	require.NoError(t, s.Execute(ctx, "/new"))
	assert.Contains(t, out.String(), "Sign in first")
}

func TestChatSession_Export(t *testing.T) {
	s, _, out := newSession(t, inferencetest.NewModel("Use ", "`ls`."))
	s.exportDir = t.TempDir()
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "/export"))
	assert.Contains(t, out.String(), "No conversation to export")

	require.NoError(t, s.Execute(ctx, "how do I list files"))
	out.Reset()
	require.NoError(t, s.Execute(ctx, "/export json"))
	assert.Contains(t, out.String(), "Wrote ")

	matches, err := filepath.Glob(filepath.Join(s.exportDir, "conversation_how_do_I_list_files_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content": "Use `+"`ls`"+`."`)

	out.Reset()
	require.NoError(t, s.Execute(ctx, "/export pdf"))
	assert.Contains(t, out.String(), "unknown export format")
}

func TestChatSession_UnknownAndQuit(t *testing.T) {
	s, _, out := newSession(t, inferencetest.NewModel())
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "/bogus"))
	assert.Contains(t, out.String(), "Unknown command /bogus")
	require.NoError(t, s.Execute(ctx, "   "))
	assert.ErrorIs(t, s.Execute(ctx, "/quit"), errQuit)
}

func TestCompleteCommand(t *testing.T) {
	assert.Equal(t, []string{"/switch "}, completeCommand("/sw"))
	assert.Nil(t, completeCommand("hello"))
}

// =============================================================================
// RENDERING
// =============================================================================

func TestRenderer_PlainSpans(t *testing.T) {
	r := &Renderer{}
	got := r.Render(output.Parse("<think>hidden</think>Intro\n```go\nfmt.Println(1)\n```\nOutro"))

	assert.NotContains(t, got, "hidden")
	assert.Contains(t, got, "Intro")
	assert.Contains(t, got, "Go")
	assert.Contains(t, got, "fmt.Println(1)")
	assert.Contains(t, got, "Outro")
	assert.True(t, strings.Index(got, "Intro") < strings.Index(got, "fmt.Println(1)"))
}

func TestRenderer_UnfinishedReasoning(t *testing.T) {
	r := &Renderer{ShowReasoning: true}
	got := r.Render(output.Parse("<think>still going"))
	assert.Contains(t, got, "cut off")
	assert.Contains(t, got, "still going")
}

func TestWriteConversationList_WideTitles(t *testing.T) {
	c := model.NewConversation("1", "u1", time.Time{})
	c.Title = "日本語のタイトルがとても長い会話のテスト用の題名です"
	var buf bytes.Buffer
	writeConversationList(&buf, []*model.Conversation{c}, "1", 80)
	assert.Contains(t, buf.String(), "...")
	assert.Contains(t, buf.String(), " 1. ")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "999 bytes (999 B)", FormatBytes(999))
	assert.Equal(t, "1,234,567 bytes (1.2 MB)", FormatBytes(1234567))
	assert.Equal(t, "1,070,000,000 bytes (1.1 GB)", FormatBytes(1_070_000_000))
}

// =============================================================================
// CONFIG
// =============================================================================

func TestRunConfig_ShowAndInit(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer
	require.NoError(t, RunConfig(cfg, NewArgParser([]string{"show"}), &buf))
	assert.Contains(t, buf.String(), "[generation]")
	assert.Contains(t, buf.String(), "max_tokens = 2000")

	path := filepath.Join(t.TempDir(), "config.toml")
	args := NewArgParser([]string{"init", "--config", path}, boolFlags...)
	require.NoError(t, RunConfig(cfg, args, &buf))
	_, err := os.Stat(path)
	require.NoError(t, err)

	err = RunConfig(cfg, args, &buf)
	assert.ErrorContains(t, err, "--yes")

	args = NewArgParser([]string{"init", "--config", path, "--yes"}, boolFlags...)
	assert.NoError(t, RunConfig(cfg, args, &buf))
}

func TestRunConfig_Unknown(t *testing.T) {
	err := RunConfig(config.Default(), NewArgParser([]string{"bogus"}), &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown config command")
}

// =============================================================================
// RESET
// =============================================================================

func newResetApp(t *testing.T, ollamaURL string) *App {
	t.Helper()
	cfg := config.Default()
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: ollamaURL, Timeout: time.Second})
	rt := inference.NewOllamaRuntime(client, cfg.Runtime.ModelName, inference.DefaultLoadOptions(), zerolog.Nop())

	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("GGUF"), 0o644))
	return &App{
		Config:  cfg,
		Runtime: rt,
		Provisioner: provision.New(provision.Options{
			Artifact: provision.Artifact{URL: "http://127.0.0.1:1/model.gguf", Path: path},
			Runtime:  rt,
			Logger:   zerolog.Nop(),
		}),
	}
}

func TestRunReset_UnregistersModel(t *testing.T) {
	var deleted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/delete" && r.Method == http.MethodDelete {
			deleted.Add(1)
		}
	}))
	t.Cleanup(srv.Close)
	app := newResetApp(t, srv.URL)

	var out bytes.Buffer
	err := RunReset(context.Background(), app, NewArgParser([]string{"reset"}, boolFlags...), &out)
	assert.ErrorContains(t, err, "--yes")
	assert.FileExists(t, app.Provisioner.Artifact().Path)

	err = RunReset(context.Background(), app, NewArgParser([]string{"reset", "--yes"}, boolFlags...), &out)
	require.NoError(t, err)
	assert.NoFileExists(t, app.Provisioner.Artifact().Path)
	assert.EqualValues(t, 1, deleted.Load())
	assert.Contains(t, out.String(), "unregistered")
}

func TestRunReset_OllamaDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	app := newResetApp(t, url)

	var out bytes.Buffer
	err := RunReset(context.Background(), app, NewArgParser([]string{"reset", "--yes"}, boolFlags...), &out)
	require.NoError(t, err)
	assert.NoFileExists(t, app.Provisioner.Artifact().Path)
	assert.Contains(t, out.String(), "not running")
}

func TestExplainProvisionError(t *testing.T) {
	down := &provision.Error{
		Kind:  provision.KindRuntimeUnavailable,
		Op:    "load",
		Cause: fmt.Errorf("%w: %w", inference.ErrRuntimeUnavailable, ollama.ErrNotRunning),
	}
	assert.ErrorContains(t, explainProvisionError(down), "ollama serve")

	slow := &provision.Error{
		Kind:  provision.KindRuntimeUnavailable,
		Op:    "load",
		Cause: fmt.Errorf("%w: %w", inference.ErrRuntimeUnavailable, ollama.ErrTimeout),
	}
	assert.ErrorContains(t, explainProvisionError(slow), "did not answer in time")

	assert.ErrorContains(t, explainProvisionError(provision.ErrModelLoadFailed), "was removed")
	assert.ErrorIs(t, explainProvisionError(down), provision.ErrRuntimeUnavailable)
}
