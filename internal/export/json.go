// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/output"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations as JSON. Assistant messages carry the
// parsed body and code segments next to the raw content.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonConversation struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	CreatedAt  time.Time     `json:"createdAt"`
	ExportedAt time.Time     `json:"exportedAt"`
	Messages   []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	Role      model.Role    `json:"role"`
	Content   string        `json:"content"`
	Reasoning string        `json:"reasoning,omitempty"`
	Body      string        `json:"body,omitempty"`
	Code      []jsonSegment `json:"code,omitempty"`
}

type jsonSegment struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	out := jsonConversation{
		ID:         conv.ID,
		Title:      conv.Title,
		CreatedAt:  conv.CreatedAt,
		ExportedAt: e.options.now(),
		Messages:   make([]jsonMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		jm := jsonMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == model.RoleAssistant {
			parsed := output.Parse(msg.Content)
			jm.Body = parsed.CopyText()
			if e.options.IncludeReasoning {
				jm.Reasoning = parsed.Reasoning
			} else {
				jm.Content = jm.Body
			}
			for _, seg := range parsed.CodeSegments {
				jm.Code = append(jm.Code, jsonSegment{Language: seg.Language, Content: seg.Content})
			}
		}
		out.Messages = append(out.Messages, jm)
	}
	return json.MarshalIndent(out, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
