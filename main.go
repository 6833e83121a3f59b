// pocketllm - chat with a small local model from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/pocketllm/internal/cli"
)

func main() {
	cmd, args := cli.Parse(os.Args[1:])

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return
	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return
	case cli.CmdUnknown:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args.Subcommand())
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	if err := run(cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func run(cmd cli.Command, args *cli.ArgParser) error {
	cfg, err := cli.LoadConfig(args)
	if err != nil {
		return err
	}
	if cmd == cli.CmdConfig {
		return cli.RunConfig(cfg, args, os.Stdout)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The chat REPL handles Ctrl+C itself, per turn.
	stopSignals := []os.Signal{syscall.SIGTERM}
	if cmd != cli.CmdChat {
		stopSignals = append(stopSignals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), stopSignals...)
	defer stop()

	app, err := cli.NewApp(cfg, args)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, cli.WarningStyle.Render("Warning: ")+cerr.Error())
		}
	}()

	switch cmd {
	case cli.CmdChat:
		cli.StartMetrics(ctx, app)
		return cli.RunChat(ctx, app, args)
	case cli.CmdPull:
		return cli.RunPull(ctx, app, os.Stdout)
	case cli.CmdStatus:
		return cli.RunStatus(ctx, app, os.Stdout)
	case cli.CmdList:
		return cli.RunList(ctx, app, args, os.Stdout)
	case cli.CmdExport:
		return cli.RunExport(ctx, app, args, os.Stdout)
	case cli.CmdServeMetrics:
		return app.ServeMetrics(ctx, args.FlagOrDefault("listen", cfg.Metrics.Listen))
	case cli.CmdReset:
		return cli.RunReset(ctx, app, args, os.Stdout)
	}
	return nil
}
