// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/pocketllm/internal/cli"
	"github.com/jeranaias/pocketllm/internal/config"
)

const version = "1.0.0"

func main() {
	args := cli.NewArgParser(os.Args[1:], "text", "t", "help", "h", "version", "v")

	switch {
	case args.BoolFlag("help", "h"):
		printHelp(os.Stdout)
		return
	case args.BoolFlag("version", "v"):
		fmt.Printf("pocketllm-setup v%s\n", version)
		return
	}

	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func run(args *cli.ArgParser) error {
	path := args.Flag("config")
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return err
		}
	}
	created, err := ensureConfig(path)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := cli.NewApp(cfg, args)
	if err != nil {
		return err
	}
	defer app.Close()

	if args.BoolFlag("text", "t") || !cli.IsTTY() {
		return runText(ctx, app, path, created, os.Stdout)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	inst := NewInstaller(ctx, app)
	if _, err := tea.NewProgram(inst, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	cancel()
	if inst.err != nil {
		return inst.err
	}
	if created {
		fmt.Println(dimStyle.Render("Wrote " + path))
	}
	return nil
}

// ensureConfig writes the default config to path when no file exists yet.
func ensureConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := config.Save(config.Default(), path); err != nil {
		return false, err
	}
	return true, nil
}

// runText is the plain, copy/paste friendly setup.
func runText(ctx context.Context, app *cli.App, path string, created bool, w io.Writer) error {
	fmt.Fprintln(w, titleStyle.Render("pocketllm setup"))
	if created {
		fmt.Fprintln(w, "  [OK] Wrote "+path)
	} else {
		fmt.Fprintln(w, "  [OK] Using "+path)
	}
	if err := app.Client.CheckRunning(ctx); err != nil {
		fmt.Fprintln(w, "  [FAIL] Ollama is not reachable at "+app.Config.Runtime.OllamaURL)
		fmt.Fprintln(w, "       -> Install from https://ollama.com and run: ollama serve")
		return err
	}
	fmt.Fprintln(w, "  [OK] Ollama is running")
	fmt.Fprintln(w)

	if err := cli.RunPull(ctx, app, w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Start chatting with: pocketllm")
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `pocketllm-setup v`+version+`

Usage: pocketllm-setup [OPTIONS]

Options:
  --config PATH  Config file to create or use
  --text, -t     Run in text mode (copy/paste friendly)
  --help, -h     Show this help
  --version, -v  Show version

The default mode is an interactive installer. Text mode is used
automatically when stdin is not a terminal.
`)
}
