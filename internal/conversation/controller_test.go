// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pocketllm/internal/chatstore"
	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/inference/inferencetest"
	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/output"
	"github.com/jeranaias/pocketllm/internal/stream"
)

// =============================================================================
// HELPERS
// =============================================================================

type staticModels struct{ m inference.Model }

func (s staticModels) Model() inference.Model { return s.m }

type fixture struct {
	store *chatstore.Store
	model *inferencetest.Model
	ctrl  *Controller
	conv  string

	mu      sync.Mutex
	updates []output.ParsedOutput
}

func newFixture(t *testing.T, m *inferencetest.Model, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{store: chatstore.New(chatstore.Options{}), model: m}
	f.store.SetCurrentUser("u1")
	id, ok := f.store.CreateConversation()
	require.True(t, ok)
	f.conv = id

	opts := Options{
		Store:       f.store,
		Models:      staticModels{m},
		Prompt:      "system prompt",
		MaxTokens:   2000,
		Temperature: 0.7,
		Stop:        []string{"</s>"},
		Logger:      zerolog.Nop(),
		OnUpdate: func(_ string, out output.ParsedOutput) {
			f.mu.Lock()
			f.updates = append(f.updates, out)
			f.mu.Unlock()
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f.ctrl = New(opts)
	return f
}

func (f *fixture) messages(t *testing.T, id string) []model.Message {
	t.Helper()
	c, ok := f.store.Conversation(id)
	require.True(t, ok)
	return c.Messages
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_StreamsOneAssistantMessage(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("<think>analyze this\n</think>", "Hello ", "```py\nprint(1)\n```", " world"))

	reply, err := f.ctrl.Send(context.Background(), "say hi")
	require.NoError(t, err)

	msgs := f.messages(t, f.conv)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.UserMessage("say hi"), msgs[0])
	assert.Equal(t, model.AssistantMessage("<think>analyze this\n</think>Hello ```py\nprint(1)\n``` world"), msgs[1])
	assert.Equal(t, msgs, f.store.Visible())

	assert.Equal(t, f.conv, reply.ConversationID)
	assert.Equal(t, "analyze this", reply.Output.Reasoning)
	assert.Equal(t, "Hello  world", reply.Output.Body)
	require.Len(t, reply.Output.CodeSegments, 1)
	assert.Equal(t, "py", reply.Output.CodeSegments[0].Language)
	assert.Equal(t, stream.StopDone, reply.Result.Reason)

	f.mu.Lock()
	assert.Len(t, f.updates, 4)
	f.mu.Unlock()

	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "system prompt", reqs[0].Prompt)
	assert.Equal(t, []model.Message{model.UserMessage("say hi")}, reqs[0].Messages)
	assert.Equal(t, 2000, reqs[0].MaxTokens)
	assert.Equal(t, 0.7, reqs[0].Temperature)
	assert.Equal(t, []string{"</s>"}, reqs[0].Stop)
	assert.False(t, f.ctrl.Busy(f.conv))
}

func TestSend_TitleFromFirstMessage(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("ok"))
	_, err := f.ctrl.Send(context.Background(), "Explain goroutines briefly")
	require.NoError(t, err)

	c, _ := f.store.Conversation(f.conv)
	assert.Equal(t, "Explain goroutines briefly", c.Title)
}

func TestSend_HistoryIncludesPriorTurns(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("answer"))
	_, err := f.ctrl.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = f.ctrl.Send(context.Background(), "second")
	require.NoError(t, err)

	reqs := f.model.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []model.Message{
		model.UserMessage("first"),
		model.AssistantMessage("answer"),
		model.UserMessage("second"),
	}, reqs[1].Messages)
	assert.Len(t, f.messages(t, f.conv), 4)
}

func TestSend_StopSequenceTruncates(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("hi<", "/s>extra"))
	reply, err := f.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, stream.StopSequence, reply.Result.Reason)
	assert.Equal(t, model.AssistantMessage("hi"), f.messages(t, f.conv)[1])
}

func TestSend_StopSequenceFirstAddsNoReply(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("</s>", "more"))
	reply, err := f.ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, stream.StopSequence, reply.Result.Reason)
	assert.Equal(t, []model.Message{model.UserMessage("hi")}, f.messages(t, f.conv))
}

func TestSendTo_BackgroundConversation(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("background reply"))
	bg := f.conv
	fg, _ := f.store.CreateConversation()

	_, err := f.ctrl.SendTo(context.Background(), bg, "work on this")
	require.NoError(t, err)

	assert.Equal(t, fg, f.store.ActiveID())
	assert.Empty(t, f.store.Visible())
	assert.Len(t, f.messages(t, bg), 2)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSend_InvalidOperations(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		input string
		want  error
	}{
		{"empty input", nil, "   \n", ErrEmptyInput},
		{"no user", func(f *fixture) { f.store.Logout() }, "hi", ErrNoUser},
		{"no active conversation", func(f *fixture) { f.store.DeleteConversation(f.conv) }, "hi", ErrNoConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, inferencetest.NewModel("x"))
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.ctrl.Send(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidOperation)
			assert.Empty(t, f.model.Requests())
		})
	}
}

func TestSendTo_UnownedConversation(t *testing.T) {
	f := newFixture(t, inferencetest.NewModel("x"))
	f.store.SetCurrentUser("u2")

	_, err := f.ctrl.SendTo(context.Background(), f.conv, "hi")
	assert.ErrorIs(t, err, ErrNoConversation)

	f.store.SetCurrentUser("u1")
	assert.Empty(t, f.messages(t, f.conv))
}

func TestSend_ModelNotReady(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.Models = staticModels{} })

	_, err := f.ctrl.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrModelNotReady)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Empty(t, f.messages(t, f.conv), "rejected before any mutation")
}

func TestSend_GenerationInProgress(t *testing.T) {
	m := inferencetest.NewModel("slow", " reply")
	m.Gate = make(chan struct{})
	f := newFixture(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "first")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(m.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.ctrl.Busy(f.conv))

	_, err := f.ctrl.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrGenerationInProgress)

	close(m.Gate)
	require.NoError(t, <-done)

	msgs := f.messages(t, f.conv)
	require.Len(t, msgs, 2)
	assert.Equal(t, "slow reply", msgs[1].Content)
}

// =============================================================================
// FAILURES
// =============================================================================

func failingModel() *inferencetest.Model {
	m := inferencetest.NewModel("par", "tial")
	m.Deltas = append(m.Deltas, inference.Delta{Err: errors.New("boom")})
	return m
}

func TestSend_FailureKeepsPartial(t *testing.T) {
	f := newFixture(t, failingModel())

	reply, err := f.ctrl.Send(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrGenerationFailed)
	assert.Equal(t, "partial", reply.Result.Text)
	assert.Equal(t, model.AssistantMessage("partial"), f.messages(t, f.conv)[1])
	assert.False(t, f.ctrl.Busy(f.conv))
}

func TestSend_FailureReplacesWithPlaceholder(t *testing.T) {
	f := newFixture(t, failingModel(), func(o *Options) { o.OnFailure = ReplaceWithPlaceholder })

	_, err := f.ctrl.Send(context.Background(), "q")
	require.ErrorIs(t, err, stream.ErrGenerationFailed)

	msgs := f.messages(t, f.conv)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.AssistantMessage("Error: boom"), msgs[1])
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("placeholder")
	require.NoError(t, err)
	assert.Equal(t, ReplaceWithPlaceholder, p)

	p, err = ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, KeepPartial, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
