// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package output

import (
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// lexerFor resolves a fence tag to a chroma lexer, guessing from the content
// when the tag is unknown or "plaintext".
func lexerFor(seg CodeSegment) chroma.Lexer {
	var lexer chroma.Lexer
	if seg.Language != DefaultLanguage {
		lexer = lexers.Get(seg.Language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(seg.Content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// LanguageName returns a display name for a fence tag ("py" becomes
// "Python"). Unknown tags are returned unchanged.
func LanguageName(tag string) string {
	if tag == "" || tag == DefaultLanguage {
		return DefaultLanguage
	}
	if lexer := lexers.Get(tag); lexer != nil {
		return lexer.Config().Name
	}
	return tag
}

// Highlight writes seg's content with 256-colour terminal escapes. style is a
// chroma style name; unknown names use chroma's fallback style.
func Highlight(w io.Writer, seg CodeSegment, style string) error {
	s := chromaStyles.Get(style)
	if s == nil {
		s = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexerFor(seg).Tokenise(nil, seg.Content)
	if err != nil {
		_, werr := io.WriteString(w, seg.Content)
		return werr
	}
	return formatter.Format(w, s, iterator)
}

// HighlightString is Highlight into a string; on error the plain content is
// returned.
func HighlightString(seg CodeSegment, style string) string {
	var b strings.Builder
	if err := Highlight(&b, seg, style); err != nil {
		return seg.Content
	}
	return b.String()
}
