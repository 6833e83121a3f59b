// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Non-interactive commands: pull, status, list, config, reset.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/export"
	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/ollama"
	"github.com/jeranaias/pocketllm/internal/provision"
)

// =============================================================================
// PULL
// =============================================================================

// RunPull provisions the model and reports the result.
func RunPull(ctx context.Context, app *App, w io.Writer) error {
	st, err := pullModel(ctx, app, w)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, FormatField("Model", st.Model.Name()))
	return nil
}

// pullModel runs the provisioner with phase and progress output on w.
func pullModel(ctx context.Context, app *App, w io.Writer) (provision.State, error) {
	if st := app.Provisioner.State(); st.Ready() {
		return st, nil
	}

	tty := IsTTY()
	lastPct := -1
	app.OnPhase = func(ph provision.Phase) {
		switch ph {
		case provision.PhaseVerifying:
			fmt.Fprintln(w, DimStyle.Render("Checking model file..."))
		case provision.PhaseDownloading:
			fmt.Fprintln(w, "Downloading "+app.Config.Model.File)
		case provision.PhaseLoading:
			if lastPct >= 0 && tty {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, DimStyle.Render("Loading model..."))
		}
	}
	app.OnProgress = func(p provision.Progress) {
		pct := int(p.Percent())
		if pct == lastPct {
			return
		}
		lastPct = pct
		if tty {
			fmt.Fprintf(w, "\r\033[K  %3d%%  %s", pct, humanSize(p.Written))
		} else if pct%10 == 0 {
			fmt.Fprintf(w, "  %d%%\n", pct)
		}
	}
	defer func() {
		app.OnPhase = nil
		app.OnProgress = nil
	}()

	st, err := app.Provisioner.Provision(ctx)
	if err != nil {
		return st, explainProvisionError(err)
	}
	fmt.Fprintln(w, SuccessStyle.Render("Model ready."))
	return st, nil
}

func explainProvisionError(err error) error {
	switch {
	case provision.IsMetadataUnavailable(err):
		return fmt.Errorf("could not reach the model host: %w", err)
	case provision.IsDownloadFailed(err):
		return fmt.Errorf("download failed, run pocketllm pull to retry: %w", err)
	case provision.IsRuntimeUnavailable(err) && ollama.IsTimeout(err):
		return fmt.Errorf("Ollama did not answer in time, the model file was kept: %w", err)
	case provision.IsRuntimeUnavailable(err):
		return fmt.Errorf("Ollama is not running, start it with 'ollama serve' (the model file was kept): %w", err)
	case provision.IsModelLoadFailed(err):
		return fmt.Errorf("the model file was removed after it failed to load: %w", err)
	case errors.Is(err, provision.ErrInsufficientDisk):
		return fmt.Errorf("not enough free disk space: %w", err)
	}
	return err
}

// =============================================================================
// STATUS
// =============================================================================

// RunStatus prints model file, runtime and storage status.
func RunStatus(ctx context.Context, app *App, w io.Writer) error {
	cfg := app.Config
	a := app.Provisioner.Artifact()

	fmt.Fprintln(w, TitleStyle.Render("Model"))
	fmt.Fprintln(w, FormatField("File", a.Path))
	if fi, err := os.Stat(a.Path); err == nil {
		fmt.Fprintln(w, FormatField("On disk", FormatBytes(fi.Size())))
	} else {
		fmt.Fprintln(w, FormatField("On disk", WarningStyle.Render("not downloaded")))
	}

	remoteCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	size, err := app.Provisioner.Verifier().RemoteSize(remoteCtx, a)
	cancel()
	if err != nil {
		fmt.Fprintln(w, FormatField("Remote", ErrorStyle.Render(err.Error())))
	} else {
		fmt.Fprintln(w, FormatField("Remote", FormatBytes(size)))
		if fi, statErr := os.Stat(a.Path); statErr == nil {
			fmt.Fprintln(w, FormatField("Verified", FormatStatus(fi.Size() == size)))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Runtime"))
	fmt.Fprintln(w, FormatField("Ollama", cfg.Runtime.OllamaURL))
	if err := app.Client.CheckRunning(ctx); err != nil {
		fmt.Fprintln(w, FormatField("Running", FormatStatus(false)))
	} else {
		fmt.Fprintln(w, FormatField("Running", FormatStatus(true)))
		models, err := app.Client.ListModels(ctx)
		loaded := false
		if err == nil {
			for _, m := range models {
				if m.Name == cfg.Runtime.ModelName || m.Name == cfg.Runtime.ModelName+":latest" {
					loaded = true
				}
			}
		}
		fmt.Fprintln(w, FormatField(cfg.Runtime.ModelName, FormatStatus(loaded)))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Storage"))
	fmt.Fprintln(w, FormatField("Backend", cfg.Storage.Backend))
	fmt.Fprintln(w, FormatField("Path", cfg.Storage.Path))
	if err := app.Persister.Load(ctx); err != nil {
		fmt.Fprintln(w, FormatField("Conversations", ErrorStyle.Render(err.Error())))
	} else {
		fmt.Fprintln(w, FormatField("Conversations", fmt.Sprint(app.Store.Len())))
	}
	return nil
}

// =============================================================================
// LIST
// =============================================================================

// RunList prints the signed-in user's conversations.
func RunList(ctx context.Context, app *App, args *ArgParser, w io.Writer) error {
	if _, err := app.SignIn(args); err != nil {
		return err
	}
	if err := app.Persister.Load(ctx); err != nil {
		return err
	}
	convs := app.Store.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return nil
	}
	writeConversationList(w, convs, app.Store.ActiveID(), TerminalWidth())
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

// RunExport writes the --conv conversation, or the newest one, to a file.
func RunExport(ctx context.Context, app *App, args *ArgParser, w io.Writer) error {
	if _, err := app.SignIn(args); err != nil {
		return err
	}
	if err := app.Persister.Load(ctx); err != nil {
		return err
	}
	id := args.Flag("conv")
	if id == "" {
		id = app.Store.ActiveID()
	}
	conv, ok := app.Store.Conversation(id)
	if !ok {
		return fmt.Errorf("no conversation %q for this user", id)
	}

	opts := export.DefaultOptions()
	opts.OutputDir = args.FlagOrDefault("out", ".")
	opts.IncludeReasoning = args.BoolFlag("reasoning")
	path, err := exportConversation(conv, args.Flag("format"), opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, SuccessStyle.Render("Wrote "+path))
	return nil
}

func exportConversation(conv *model.Conversation, format string, opts *export.Options) (string, error) {
	exp, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ToFile(conv, exp, opts)
}

// =============================================================================
// CONFIG
// =============================================================================

// RunConfig shows the effective configuration or writes the default file.
func RunConfig(cfg *config.Config, args *ArgParser, w io.Writer) error {
	switch sub := args.Subcommand(); sub {
	case "", "show":
		return toml.NewEncoder(w).Encode(cfg)
	case "init":
		path := args.Flag("config")
		if path == "" {
			var err error
			if path, err = config.Path(); err != nil {
				return err
			}
		}
		if _, err := os.Stat(path); err == nil && !args.BoolFlag("yes", "y") {
			return fmt.Errorf("%s exists, pass --yes to overwrite", path)
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintln(w, SuccessStyle.Render("Wrote "+path))
		return nil
	case "path":
		path, err := config.Path()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, path)
		return nil
	default:
		return fmt.Errorf("unknown config command %q (show, init, path)", sub)
	}
}

// =============================================================================
// RESET
// =============================================================================

// RunReset deletes the model file and drops the model from Ollama. It asks
// for --yes first.
func RunReset(ctx context.Context, app *App, args *ArgParser, w io.Writer) error {
	if !args.BoolFlag("yes", "y") {
		return fmt.Errorf("this deletes %s, pass --yes to confirm", app.Provisioner.Artifact().Path)
	}
	if err := app.Provisioner.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(w, SuccessStyle.Render("Model file removed."))

	if err := app.Runtime.Unload(ctx); err != nil {
		if !errors.Is(err, inference.ErrRuntimeUnavailable) {
			return err
		}
		fmt.Fprintln(w, WarningStyle.Render("Ollama is not running, its copy of "+app.Config.Runtime.ModelName+" was left in place."))
		return nil
	}
	fmt.Fprintln(w, SuccessStyle.Render("Model unregistered from Ollama."))
	return nil
}

// StartMetrics serves metrics in the background when enabled in config.
func StartMetrics(ctx context.Context, app *App) {
	if !app.Config.Metrics.Enabled {
		return
	}
	go func() {
		if err := app.ServeMetrics(ctx, app.Config.Metrics.Listen); err != nil {
			app.Log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
