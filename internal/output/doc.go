// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package output turns raw model text into display segments.
//
// Reasoning models wrap their chain of thought in <think>...</think> before
// the answer. Parse separates that reasoning from the body, strips
// end-of-turn tokens the runtime let through, and pulls fenced code blocks out
// of the body so they can be rendered and copied on their own.
//
// Parse is pure and cheap enough to run on every streamed delta; nothing it
// returns is persisted. The raw message content stays the source of truth.
//
// # Key Types
//
//   - ParsedOutput: reasoning, body, code segments and the ordered spans
//   - CodeSegment: one fenced block with its language tag
//   - Span: a text or code piece of the body in original order
//
// # Usage
//
//	p := output.Parse(msg.Content)
//	for _, span := range p.Spans {
//	    if span.Code != nil {
//	        output.Highlight(w, *span.Code, "monokai")
//	    } else {
//	        fmt.Fprint(w, span.Text)
//	    }
//	}
//	clipboard := p.CopyText()
package output
