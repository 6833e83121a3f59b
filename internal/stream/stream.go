// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream accumulates the deltas of one generation.
//
// A Session applies deltas strictly in arrival order, hands the full
// accumulated text to its caller after each one, and ends on the first of:
// producer done, stop sequence, token budget, runtime error or cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/metrics"
)

// ErrGenerationFailed wraps a runtime error reported mid-stream.
var ErrGenerationFailed = errors.New("generation failed")

// StopReason says why a session ended.
type StopReason string

const (
	StopDone     StopReason = "done"
	StopSequence StopReason = "stop_sequence"
	StopBudget   StopReason = "max_tokens"
	StopError    StopReason = "error"
	StopCanceled StopReason = "canceled"
)

// Result is the outcome of a session. Text holds whatever was accumulated,
// including on failure.
type Result struct {
	Text   string
	Deltas int
	Reason StopReason
	// Stop is the matched stop sequence when Reason is StopSequence.
	Stop string
	Took time.Duration
}

// Config bounds a session.
type Config struct {
	// MaxTokens ends the session after that many deltas. Zero means no limit.
	MaxTokens int
	// Stop sequences are cut from the output, even when split across deltas.
	Stop []string
}

// Session runs a single generation. It is not reusable.
type Session struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	buf     strings.Builder
	emitted int
	deltas  int
	maxStop int
}

// New creates a session. m may be nil.
func New(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Session {
	s := &Session{cfg: cfg, log: log, metrics: m}
	for _, stop := range cfg.Stop {
		s.maxStop = max(s.maxStop, len(stop))
	}
	return s
}

// Run consumes deltas until the session ends. emit, when non-nil, receives
// the accumulated text after every delta that changed it.
//
// The producer should be bound to a context the caller cancels once Run
// returns; Run does not drain the channel after an early stop.
func (s *Session) Run(ctx context.Context, deltas <-chan inference.Delta, emit func(accumulated string)) (Result, error) {
	start := time.Now()
	finish := s.metrics.GenerationStarted()

	res, err := s.run(ctx, deltas, emit)
	res.Took = time.Since(start)
	finish(string(res.Reason))

	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("reason", string(res.Reason)).Int("deltas", res.Deltas).
		Int("chars", len(res.Text)).Dur("took", res.Took).Msg("generation finished")
	return res, err
}

func (s *Session) run(ctx context.Context, deltas <-chan inference.Delta, emit func(string)) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return s.result(StopCanceled, ""), ctx.Err()

		case d, ok := <-deltas:
			if !ok {
				return s.result(StopDone, ""), nil
			}
			if d.Err != nil {
				return s.result(StopError, ""), fmt.Errorf("%w: %w", ErrGenerationFailed, d.Err)
			}

			s.deltas++
			s.metrics.Delta()

			before := s.buf.Len()
			s.buf.WriteString(d.Text)
			if stop, cut := s.findStop(before); cut >= 0 {
				s.truncate(cut)
				s.emit(emit)
				return s.result(StopSequence, stop), nil
			}
			s.emit(emit)

			if s.cfg.MaxTokens > 0 && s.deltas >= s.cfg.MaxTokens {
				return s.result(StopBudget, ""), nil
			}
		}
	}
}

// emit reports the accumulated text unless it matches what was last reported.
// Text only grows between stop checks, so comparing lengths is enough.
func (s *Session) emit(fn func(string)) {
	if fn == nil || s.buf.Len() == s.emitted {
		return
	}
	s.emitted = s.buf.Len()
	fn(s.buf.String())
}

// findStop looks for the earliest stop sequence that could have been
// completed by text appended after offset before.
func (s *Session) findStop(before int) (string, int) {
	if s.maxStop == 0 {
		return "", -1
	}
	acc := s.buf.String()
	from := max(0, before-s.maxStop+1)
	window := acc[from:]

	best, bestAt := "", -1
	for _, stop := range s.cfg.Stop {
		if stop == "" {
			continue
		}
		if i := strings.Index(window, stop); i >= 0 && (bestAt < 0 || from+i < bestAt) {
			best, bestAt = stop, from+i
		}
	}
	return best, bestAt
}

func (s *Session) truncate(n int) {
	kept := s.buf.String()[:n]
	s.buf.Reset()
	s.buf.WriteString(kept)
}

func (s *Session) result(reason StopReason, stop string) Result {
	return Result{Text: s.buf.String(), Deltas: s.deltas, Reason: reason, Stop: stop}
}

// Text returns what has been accumulated so far.
func (s *Session) Text() string {
	return s.buf.String()
}
