// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wires configuration into the running components.

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/pocketllm/internal/chatstore"
	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/conversation"
	"github.com/jeranaias/pocketllm/internal/identity"
	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/logging"
	"github.com/jeranaias/pocketllm/internal/metrics"
	"github.com/jeranaias/pocketllm/internal/ollama"
	"github.com/jeranaias/pocketllm/internal/output"
	"github.com/jeranaias/pocketllm/internal/provision"
	"github.com/jeranaias/pocketllm/internal/storage"
)

// App holds every long-lived component of a pocketllm process.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	Client      *ollama.Client
	Runtime     *inference.OllamaRuntime
	Provisioner *provision.Provisioner

	Blobs      storage.BlobStore
	Store      *chatstore.Store
	Persister  *chatstore.Persister
	Binder     *identity.Binder
	Controller *conversation.Controller

	// Hooks the active command may set.
	OnProgress func(provision.Progress)
	OnPhase    func(provision.Phase)
	OnUpdate   func(convID string, out output.ParsedOutput)

	logFile *os.File
}

// LoadConfig reads --config PATH, or the default file.
func LoadConfig(args *ArgParser) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := args.Flag("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// NewApp builds the components described by cfg. Nothing touches the network
// until a command runs.
func NewApp(cfg *config.Config, args *ArgParser) (*App, error) {
	a := &App{Config: cfg}

	logCfg := logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}
	if args.BoolFlag("verbose", "v") {
		logCfg.Level = "debug"
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		logCfg.Output = f
	}
	a.Log = logging.New(logCfg)
	a.Metrics = metrics.New(nil)

	policy, err := conversation.ParseFailurePolicy(cfg.Generation.OnFailure)
	if err != nil {
		return nil, err
	}

	a.Client = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Runtime.OllamaURL,
		Timeout: cfg.Runtime.Timeout,
	})
	a.Runtime = inference.NewOllamaRuntime(a.Client, cfg.Runtime.ModelName, inference.LoadOptions{
		ContextSize: cfg.Model.ContextSize,
		GPULayers:   cfg.Model.GPULayers,
		UseMlock:    cfg.Model.UseMlock,
	}, logging.Component(a.Log, "runtime"))

	a.Provisioner = provision.New(provision.Options{
		Artifact: provision.Artifact{URL: cfg.Model.URL, Path: cfg.ModelPath()},
		Runtime:  a.Runtime,
		Metrics:  a.Metrics,
		Logger:   logging.Component(a.Log, "provision"),
		OnProgress: func(p provision.Progress) {
			if a.OnProgress != nil {
				a.OnProgress(p)
			}
		},
		OnPhase: func(ph provision.Phase) {
			if a.OnPhase != nil {
				a.OnPhase(ph)
			}
		},
	})

	if cfg.Storage.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
			return nil, err
		}
	}
	a.Blobs, err = storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a.Store = chatstore.New(chatstore.Options{IDs: chatstore.NewIDSource(cfg.Storage.IDs)})
	a.Persister = chatstore.NewPersister(a.Store, a.Blobs, logging.Component(a.Log, "chatstore"))
	a.Persister.Debounce = 500 * time.Millisecond
	a.Binder = identity.NewBinder(a.Store, logging.Component(a.Log, "identity"))

	a.Controller = conversation.New(conversation.Options{
		Store:       a.Store,
		Models:      a.Provisioner,
		Prompt:      cfg.Generation.Prompt,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Stop:        cfg.Generation.StopWords,
		OnFailure:   policy,
		Logger:      logging.Component(a.Log, "conversation"),
		Metrics:     a.Metrics,
		OnUpdate: func(id string, out output.ParsedOutput) {
			if a.OnUpdate != nil {
				a.OnUpdate(id, out)
			}
		},
	})
	return a, nil
}

// OpenChats restores saved conversations and starts saving changes.
func (a *App) OpenChats(ctx context.Context) error {
	if err := a.Persister.Load(ctx); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	a.Persister.Attach()
	return nil
}

// SignIn resolves the local user and signs them in.
func (a *App) SignIn(args *ArgParser) (identity.User, error) {
	u, err := identity.Resolve(args.Flag("user"))
	if err != nil {
		return identity.User{}, err
	}
	return u, a.Binder.SignIn(u)
}

// ServeMetrics serves /metrics on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.Log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes unsaved conversations and releases resources.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.Persister != nil {
		a.Persister.Detach()
		errs = append(errs, a.Persister.Flush(ctx))
	}
	if a.Blobs != nil {
		errs = append(errs, a.Blobs.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
