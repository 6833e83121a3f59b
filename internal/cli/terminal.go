// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - What the CLI can assume about its terminal.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Reply text wraps between these widths whatever the window size.
const (
	fallbackWidth    = 80
	MinTerminalWidth = 40
	maxWrapWidth     = 120
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// IsTTY reports whether stdin is interactive.
func IsTTY() bool { return isTerminal(os.Stdin) }

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool { return isTerminal(os.Stdout) }

// TerminalWidth returns the wrap width for replies.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallbackWidth
	}
	return min(max(w, MinTerminalWidth), maxWrapWidth)
}

var (
	profileOnce sync.Once
	profile     termenv.Profile
)

// colorProfile honours NO_COLOR and CLICOLOR_FORCE through termenv, plus
// FORCE_COLOR. Piped output gets no escapes.
func colorProfile() termenv.Profile {
	profileOnce.Do(func() {
		out := termenv.NewOutput(os.Stdout)
		profile = out.EnvColorProfile()
		if os.Getenv("FORCE_COLOR") != "" && os.Getenv("NO_COLOR") == "" && profile == termenv.Ascii {
			profile = termenv.ANSI256
		}
	})
	return profile
}

// ColorsEnabled reports whether styled output is in use.
func ColorsEnabled() bool {
	return colorProfile() != termenv.Ascii
}

// DarkBackground resolves the ui.theme setting. "auto" asks the terminal and
// assumes dark when stdout is not one.
func DarkBackground(theme string) bool {
	switch theme {
	case "dark":
		return true
	case "light":
		return false
	}
	if !IsStdoutTTY() {
		return true
	}
	return termenv.HasDarkBackground()
}
