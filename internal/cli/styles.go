// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for the pocketllm CLI.

package cli

import (
	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(colorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle heads status sections and the chat banner.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// LabelStyle pads status field names into a column.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	// SpeakerStyle names who wrote a chat message.
	SpeakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle carries reasoning, hints and code headers.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// ActiveMarkerStyle marks the active conversation in /list.
	ActiveMarkerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82"))
)

// FormatStatus renders an OK / FAIL word in its status color.
func FormatStatus(ok bool) string {
	if ok {
		return SuccessStyle.Render("OK")
	}
	return ErrorStyle.Render("FAIL")
}

// FormatField renders an aligned "label value" pair.
func FormatField(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}
