// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the pocketllm command line: command parsing, the
// interactive chat REPL and the maintenance commands around it.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdPull
	CmdStatus
	CmdList
	CmdExport
	CmdConfig
	CmdServeMetrics
	CmdReset
	CmdVersion
	CmdHelp
	CmdUnknown
)

var commandNames = map[string]Command{
	"chat":          CmdChat,
	"pull":          CmdPull,
	"status":        CmdStatus,
	"s":             CmdStatus,
	"list":          CmdList,
	"ls":            CmdList,
	"export":        CmdExport,
	"config":        CmdConfig,
	"serve-metrics": CmdServeMetrics,
	"reset":         CmdReset,
	"version":       CmdVersion,
	"--version":     CmdVersion,
	"help":          CmdHelp,
	"--help":        CmdHelp,
	"-h":            CmdHelp,
}

// boolFlags never take a value.
var boolFlags = []string{"pretty", "no-markdown", "reasoning", "yes", "y", "verbose", "v"}

const usageText = `pocketllm - chat with a small local model

Usage:
  pocketllm [chat]              Download the model if needed, then chat
  pocketllm pull                Download, verify and load the model only
  pocketllm status, s           Show model, runtime and storage status
  pocketllm list, ls            List your conversations
  pocketllm export              Write a conversation to Markdown or JSON
  pocketllm config [show|init]  Show the effective config or write a default file
  pocketllm serve-metrics       Serve Prometheus metrics
  pocketllm reset --yes         Delete the downloaded model file
  pocketllm version             Show version information

Flags:
  --config PATH                 Config file (default ~/.pocketllm/config.toml)
  --user ID                     User id (default $POCKETLLM_USER or OS user)
  --conv ID                     Open this conversation (chat, export)
  --reasoning                   Show the model's <think> reasoning (chat, export)
  --no-markdown                 Print replies as plain text (chat)
  --format md|json              Export format (export, default md)
  --out DIR                     Export directory (export, default .)
  -v, --verbose                 Debug logging

Chat commands:
  /new                Start a new conversation
  /list               List conversations
  /switch N           Switch to conversation N from /list
  /delete N           Delete conversation N from /list
  /clear              Clear the current conversation
  /copy               Print the last reply with its code fences, unrendered
  /export [md|json]   Write the current conversation to a file
  /reasoning          Toggle reasoning display
  /logout             Sign out (conversations are kept)
  /help               Show chat commands
  /quit               Exit
`

// Parse maps argv (without the program name) to a command and its arguments.
// No arguments means chat.
func Parse(argv []string) (Command, *ArgParser) {
	if len(argv) == 0 {
		return CmdChat, NewArgParser(nil, boolFlags...)
	}
	if cmd, ok := commandNames[argv[0]]; ok {
		return cmd, NewArgParser(argv[1:], boolFlags...)
	}
	if strings.HasPrefix(argv[0], "-") {
		// Flags only: chat is the default command.
		return CmdChat, NewArgParser(argv, boolFlags...)
	}
	return CmdUnknown, NewArgParser(argv, boolFlags...)
}

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "pocketllm %s (commit %s, built %s, %s %s/%s)\n",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
