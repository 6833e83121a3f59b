// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package output

import (
	"strings"
	"testing"
)

func TestLanguageName(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"py", "Python"},
		{"go", "Go"},
		{"", DefaultLanguage},
		{DefaultLanguage, DefaultLanguage},
		{"no-such-language-xyz", "no-such-language-xyz"},
	}
	for _, tc := range tests {
		if got := LanguageName(tc.tag); got != tc.want {
			t.Errorf("LanguageName(%q) = %q, want %q", tc.tag, got, tc.want)
		}
	}
}

func TestHighlightString_KeepsCode(t *testing.T) {
	seg := CodeSegment{Language: "go", Content: "package main"}

	out := HighlightString(seg, "monokai")
	if !strings.Contains(out, "package") || !strings.Contains(out, "main") {
		t.Errorf("highlighted output lost content: %q", out)
	}
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI escapes in %q", out)
	}
}

func TestHighlightString_UnknownStyle(t *testing.T) {
	seg := CodeSegment{Language: DefaultLanguage, Content: "hello"}
	if out := HighlightString(seg, "not-a-style"); !strings.Contains(out, "hello") {
		t.Errorf("HighlightString = %q", out)
	}
}
