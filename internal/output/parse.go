// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package output

import (
	"regexp"
	"strings"
)

const (
	// ReasoningOpen starts a reasoning block when it is the first thing in
	// the output.
	ReasoningOpen = "<think>"
	// ReasoningClose ends it.
	ReasoningClose = "</think>"

	// DefaultLanguage is used for untagged fences.
	DefaultLanguage = "plaintext"
)

// =============================================================================
// TYPES
// =============================================================================

// CodeSegment is one fenced code block.
type CodeSegment struct {
	// Language is the fence tag, or DefaultLanguage when untagged.
	Language string
	// Content is the code with surrounding whitespace trimmed.
	Content string
	// Fence is the block exactly as it appeared, delimiters included.
	Fence string
}

// Span is a piece of the body. Exactly one of Text or Code is meaningful.
type Span struct {
	Text string
	Code *CodeSegment
}

// IsCode reports whether the span is a code block.
func (s Span) IsCode() bool {
	return s.Code != nil
}

// ParsedOutput is the structured view of one raw assistant message.
type ParsedOutput struct {
	Reasoning    string
	Body         string
	CodeSegments []CodeSegment

	// Spans interleaves text and code in original order.
	Spans []Span

	// HasReasoning is set when the raw text opened a reasoning block.
	HasReasoning bool
	// ReasoningDone is set when that block was closed. An open block with no
	// close is output cut off mid-thought.
	ReasoningDone bool
}

// =============================================================================
// PARSE
// =============================================================================

var (
	// Matches <|end_of_sentence|> with either underscores or whitespace as
	// separators, in any case.
	endOfSentence = regexp.MustCompile(`(?i)<\|end[_\s]of[_\s]sentence\|>`)

	// DeepSeek tokenizers emit the fullwidth form.
	endOfSentenceWide = regexp.MustCompile(`<｜end▁of▁sentence｜>`)

	// A fence needs a word-only tag, a newline, and a closing fence.
	fence = regexp.MustCompile("```(\\w*)\\n((?s:.*?))```")
)

// endOfTurn lists the end markers of the common chat templates. Runtimes are
// asked to stop on them but some still leak into the text.
var endOfTurn = []string{
	"</s>",
	"<|end|>",
	"<|eot_id|>",
	"<|end_of_text|>",
	"<|im_end|>",
	"<|EOT|>",
	"<|END_OF_TURN_TOKEN|>",
	"<|end_of_turn|>",
	"<|endoftext|>",
	"<|END|>",
}

// Parse splits raw model output into reasoning, body and code segments.
func Parse(raw string) ParsedOutput {
	var p ParsedOutput

	basis := raw
	if strings.HasPrefix(raw, ReasoningOpen) {
		p.HasReasoning = true
		rest := strings.Replace(raw, ReasoningOpen, "", 1)

		reasoning, after, closed := strings.Cut(rest, ReasoningClose)
		if !closed {
			// Still thinking, or cut off: no body yet.
			p.Reasoning = StripSentinels(rest)
			return p
		}
		p.ReasoningDone = true
		p.Reasoning = strings.TrimSpace(reasoning)
		basis = after
	}

	body := StripSentinels(basis)
	p.Spans, p.CodeSegments = splitFences(body)

	var text strings.Builder
	for _, s := range p.Spans {
		if !s.IsCode() {
			text.WriteString(s.Text)
		}
	}
	p.Body = strings.TrimSpace(text.String())
	return p
}

// StripSentinels removes end-of-turn tokens and trims surrounding whitespace.
// It repeats until nothing changes so the result is a fixed point.
func StripSentinels(s string) string {
	for {
		next := endOfSentence.ReplaceAllString(s, "")
		next = endOfSentenceWide.ReplaceAllString(next, "")
		for _, tok := range endOfTurn {
			next = strings.ReplaceAll(next, tok, "")
		}
		next = strings.TrimSpace(next)
		if next == s {
			return next
		}
		s = next
	}
}

// splitFences cuts body into text and code spans. Unclosed fences do not
// match and stay in the text.
func splitFences(body string) ([]Span, []CodeSegment) {
	if body == "" {
		return nil, nil
	}

	matches := fence.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return []Span{{Text: body}}, nil
	}

	segments := make([]CodeSegment, 0, len(matches))
	for _, m := range matches {
		lang := body[m[2]:m[3]]
		if lang == "" {
			lang = DefaultLanguage
		}
		segments = append(segments, CodeSegment{
			Language: lang,
			Content:  strings.TrimSpace(body[m[4]:m[5]]),
			Fence:    body[m[0]:m[1]],
		})
	}
	return interleave(body, matches, segments), segments
}

// interleave builds the ordered span list with Code pointing into segments.
func interleave(body string, matches [][]int, segments []CodeSegment) []Span {
	spans := make([]Span, 0, 2*len(matches)+1)
	prev := 0
	for i, m := range matches {
		if m[0] > prev {
			spans = append(spans, Span{Text: body[prev:m[0]]})
		}
		spans = append(spans, Span{Code: &segments[i]})
		prev = m[1]
	}
	if prev < len(body) {
		spans = append(spans, Span{Text: body[prev:]})
	}
	return spans
}

// =============================================================================
// RECONSTRUCTION
// =============================================================================

// CopyText returns the body with its code fences back in place, in original
// order and syntax, without the reasoning. This is what goes on the
// clipboard.
func (p ParsedOutput) CopyText() string {
	var b strings.Builder
	for _, s := range p.Spans {
		if s.IsCode() {
			b.WriteString(s.Code.Fence)
		} else {
			b.WriteString(s.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// Reconstruct returns raw text that parses back to the same reasoning and
// code segments.
func (p ParsedOutput) Reconstruct() string {
	body := p.CopyText()
	if !p.HasReasoning {
		if strings.HasPrefix(body, ReasoningOpen) {
			// Keep a literal leading marker from being read as reasoning.
			return ReasoningOpen + ReasoningClose + body
		}
		return body
	}
	if !p.ReasoningDone {
		return ReasoningOpen + p.Reasoning
	}
	return ReasoningOpen + p.Reasoning + ReasoningClose + body
}
