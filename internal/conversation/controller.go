// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation runs a user turn: it records the message, asks the
// model for a reply and streams that reply into the chat store.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/pocketllm/internal/chatstore"
	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/metrics"
	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/output"
	"github.com/jeranaias/pocketllm/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidOperation rejects a send before anything is recorded.
var ErrInvalidOperation = errors.New("invalid operation")

var (
	ErrEmptyInput           = fmt.Errorf("%w: empty message", ErrInvalidOperation)
	ErrNoUser               = fmt.Errorf("%w: nobody is signed in", ErrInvalidOperation)
	ErrNoConversation       = fmt.Errorf("%w: no active conversation", ErrInvalidOperation)
	ErrModelNotReady        = fmt.Errorf("%w: model not ready", ErrInvalidOperation)
	ErrGenerationInProgress = fmt.Errorf("%w: a reply is already being generated for this conversation", ErrInvalidOperation)
)

// PlaceholderPrefix starts the assistant message that replaces a failed reply.
const PlaceholderPrefix = "Error: "

// =============================================================================
// FAILURE POLICY
// =============================================================================

// FailurePolicy decides what a failed generation leaves in the conversation.
type FailurePolicy int

const (
	// KeepPartial leaves whatever streamed before the failure.
	KeepPartial FailurePolicy = iota
	// ReplaceWithPlaceholder overwrites the reply with an error message.
	ReplaceWithPlaceholder
)

// ParseFailurePolicy maps "keep" and "placeholder" to a policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepPartial, nil
	case "placeholder":
		return ReplaceWithPlaceholder, nil
	default:
		return KeepPartial, fmt.Errorf("unknown failure policy %q", s)
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// ModelSource yields the loaded model, or nil when none is ready.
type ModelSource interface {
	Model() inference.Model
}

// Options configures a Controller. Store and Models are required.
type Options struct {
	Store  *chatstore.Store
	Models ModelSource

	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
	OnFailure   FailurePolicy

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// OnUpdate receives the parsed reply after every streamed delta.
	OnUpdate func(convID string, out output.ParsedOutput)
}

// Reply is the outcome of one turn.
type Reply struct {
	ConversationID string
	Output         output.ParsedOutput
	Result         stream.Result
}

// Controller sends user turns. Different conversations may generate at the
// same time; a second send to a conversation that is still generating fails
// with ErrGenerationInProgress.
type Controller struct {
	opts Options
	log  zerolog.Logger

	busy sync.Map // conversation id -> struct{}
}

// New creates a Controller.
func New(opts Options) *Controller {
	return &Controller{opts: opts, log: opts.Logger}
}

// Busy reports whether a reply is streaming into convID.
func (c *Controller) Busy(convID string) bool {
	_, ok := c.busy.Load(convID)
	return ok
}

// Send sends input to the active conversation.
func (c *Controller) Send(ctx context.Context, input string) (Reply, error) {
	if strings.TrimSpace(input) == "" {
		return Reply{}, ErrEmptyInput
	}
	if c.opts.Store.CurrentUser() == "" {
		return Reply{}, ErrNoUser
	}
	id := c.opts.Store.ActiveID()
	if id == "" {
		return Reply{}, ErrNoConversation
	}
	return c.SendTo(ctx, id, input)
}

// SendTo sends input to conversation convID, which need not be the active
// one. Validation failures return before the conversation is touched. A
// runtime failure mid-stream returns an error wrapping
// stream.ErrGenerationFailed, with the conversation left as the failure
// policy says.
func (c *Controller) SendTo(ctx context.Context, convID, input string) (Reply, error) {
	reply := Reply{ConversationID: convID}

	if strings.TrimSpace(input) == "" {
		return reply, ErrEmptyInput
	}
	store := c.opts.Store
	if store.CurrentUser() == "" {
		return reply, ErrNoUser
	}
	if _, ok := store.Conversation(convID); !ok {
		return reply, ErrNoConversation
	}
	m := c.opts.Models.Model()
	if m == nil {
		return reply, ErrModelNotReady
	}

	if _, loaded := c.busy.LoadOrStore(convID, struct{}{}); loaded {
		return reply, ErrGenerationInProgress
	}
	defer c.busy.Delete(convID)

	store.AppendOrMergeMessage(convID, model.UserMessage(input))
	conv, ok := store.Conversation(convID)
	if !ok {
		// Signed out between validation and append.
		return reply, ErrNoUser
	}

	log := c.log.With().Str("conversation", convID).Logger()
	req := inference.CompletionRequest{
		Prompt:      c.opts.Prompt,
		Messages:    conv.History(),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Stop:        c.opts.Stop,
	}

	// The producer must stop once the session does.
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas, err := m.Complete(genCtx, req)
	if err != nil {
		err = fmt.Errorf("%w: %w", stream.ErrGenerationFailed, err)
		c.fail(convID, err, log)
		return reply, err
	}

	session := stream.New(stream.Config{MaxTokens: c.opts.MaxTokens, Stop: c.opts.Stop}, log, c.opts.Metrics)
	res, err := session.Run(genCtx, deltas, func(acc string) {
		store.AppendOrMergeMessage(convID, model.AssistantMessage(acc))
		if c.opts.OnUpdate != nil {
			c.opts.OnUpdate(convID, output.Parse(acc))
		}
	})
	reply.Result = res
	reply.Output = output.Parse(res.Text)

	if errors.Is(err, stream.ErrGenerationFailed) {
		c.fail(convID, err, log)
	}
	return reply, err
}

// fail applies the failure policy to convID.
func (c *Controller) fail(convID string, err error, log zerolog.Logger) {
	log.Error().Err(err).Msg("generation failed")
	if c.opts.OnFailure != ReplaceWithPlaceholder {
		return
	}
	cause := strings.TrimPrefix(err.Error(), stream.ErrGenerationFailed.Error()+": ")
	msg := model.AssistantMessage(PlaceholderPrefix + cause)
	c.opts.Store.AppendOrMergeMessage(convID, msg)
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(convID, output.Parse(msg.Content))
	}
}
