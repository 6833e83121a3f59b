// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Turns parsed model output into terminal text.

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/output"
)

// Renderer formats replies. Text spans go through glamour, code spans through
// chroma, and reasoning is dimmed.
type Renderer struct {
	markdown      *glamour.TermRenderer
	codeStyle     string
	color         bool
	ShowReasoning bool
}

// NewRenderer builds a renderer for the UI settings. Markdown rendering is
// skipped when disabled or when stdout is not a terminal.
func NewRenderer(ui config.UIConfig, width int) *Renderer {
	r := &Renderer{
		codeStyle:     ui.CodeStyle,
		color:         ColorsEnabled(),
		ShowReasoning: ui.ShowReasoning,
	}
	if !ui.RenderMarkdown || !r.color {
		return r
	}

	style := "light"
	if DarkBackground(ui.Theme) {
		style = "dark"
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(max(width-4, MinTerminalWidth)),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

// Render formats a complete reply.
func (r *Renderer) Render(out output.ParsedOutput) string {
	var b strings.Builder

	if r.ShowReasoning && out.Reasoning != "" {
		label := "thinking"
		if !out.ReasoningDone {
			label = "thinking (cut off)"
		}
		b.WriteString(DimStyle.Render("[" + label + "]"))
		b.WriteString("\n")
		b.WriteString(DimStyle.Render(out.Reasoning))
		b.WriteString("\n\n")
	}

	for _, span := range out.Spans {
		if span.IsCode() {
			b.WriteString(r.renderCode(*span.Code))
			continue
		}
		b.WriteString(r.renderText(span.Text))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func (r *Renderer) renderText(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if r.markdown == nil {
		return text
	}
	rendered, err := r.markdown.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

func (r *Renderer) renderCode(seg output.CodeSegment) string {
	header := DimStyle.Render("── " + output.LanguageName(seg.Language) + " ──")
	body := seg.Content
	if r.color {
		body = output.HighlightString(seg, r.codeStyle)
	}
	return "\n" + header + "\n" + strings.TrimRight(body, "\n") + "\n\n"
}

// =============================================================================
// NUMBER FORMATTING
// =============================================================================

var printer = message.NewPrinter(language.English)

// FormatBytes renders a byte count as "1,234,567 bytes (1.2 GB)".
func FormatBytes(n int64) string {
	return printer.Sprintf("%d bytes (%s)", n, humanSize(n))
}

func humanSize(n int64) string {
	const unit = 1000
	if n < unit {
		return printer.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return printer.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
