// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pocketllm/internal/cli"
	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/provision"
)

func newTestInstaller(t *testing.T, ollama http.HandlerFunc) *Installer {
	t.Helper()
	srv := httptest.NewServer(ollama)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Runtime.OllamaURL = srv.URL
	cfg.Model.Dir = filepath.Join(dir, "models")
	cfg.Model.URL = srv.URL + "/model.gguf"
	cfg.Storage.Path = filepath.Join(dir, "chats")
	cfg.Log.Level = "disabled"

	app, err := cli.NewApp(cfg, cli.NewArgParser(nil))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	return NewInstaller(context.Background(), app)
}

func enter() tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyEnter} }

func TestInstaller_ChecksRunInOrder(t *testing.T) {
	inst := newTestInstaller(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
		}
		w.WriteHeader(http.StatusOK)
	})

	_, cmd := inst.Update(enter())
	require.Equal(t, StepChecks, inst.step)

	for n := 0; n < len(inst.checks); n++ {
		require.NotNil(t, cmd)
		msg := cmd()
		_, cmd = inst.Update(msg)
	}
	assert.Equal(t, len(inst.checks), inst.currentCheck)
	assert.Equal(t, statusPass, inst.checks[0].Status)
	assert.Equal(t, statusPass, inst.checks[1].Status)
	assert.Contains(t, inst.checks[1].Message, "1,000 bytes")
	assert.Equal(t, int64(1000), inst.total)
	assert.Contains(t, inst.View(), "Press ENTER to download")
}

func TestInstaller_FailedCheckBlocks(t *testing.T) {
	inst := newTestInstaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	inst.step = StepChecks
	inst.Update(checkCompleteMsg{index: 0, result: CheckResult{Name: "Ollama runtime", Status: statusFail, Message: "down"}})
	inst.Update(checkCompleteMsg{index: 1, result: CheckResult{Name: "Model host", Status: statusWarn}})
	inst.Update(checkCompleteMsg{index: 2, result: CheckResult{Name: "Disk space", Status: statusPass}})

	_, cmd := inst.Update(enter())
	assert.Nil(t, cmd)
	assert.Equal(t, StepChecks, inst.step)
	assert.Contains(t, inst.View(), "Fix the failed checks")
}

func TestInstaller_ProvisionMessages(t *testing.T) {
	inst := newTestInstaller(t, func(w http.ResponseWriter, r *http.Request) {})
	inst.step = StepProvision

	inst.Update(phaseMsg(provision.PhaseDownloading))
	assert.Equal(t, provision.PhaseDownloading, inst.phase)
	assert.Contains(t, inst.View(), "downloading")

	inst.Update(progressMsg{Written: 250, Total: 1000})
	assert.Equal(t, int64(250), inst.downloaded)

	inst.Update(provisionDoneMsg{err: &provision.Error{Kind: provision.KindDownloadFailed, Op: "download"}})
	assert.Equal(t, StepFailed, inst.step)
	assert.Contains(t, inst.View(), "The download failed")

	_, cmd := inst.Update(enter())
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestInstaller_Complete(t *testing.T) {
	inst := newTestInstaller(t, func(w http.ResponseWriter, r *http.Request) {})
	inst.step = StepProvision
	inst.Update(provisionDoneMsg{})
	assert.Equal(t, StepComplete, inst.step)
	assert.Contains(t, inst.View(), "Model ready")
}

func TestFailureHint(t *testing.T) {
	assert.Equal(t, "Cancelled.", failureHint(context.Canceled))
	assert.Contains(t, failureHint(provision.ErrInsufficientDisk), "disk space")
	assert.Contains(t, failureHint(provision.ErrModelLoadFailed), "could not load")
	assert.Contains(t, failureHint(provision.ErrRuntimeUnavailable), "file was kept")
	assert.Equal(t, "Something went wrong.", failureHint(assert.AnError))
}

func TestEnsureConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pocketllm", "config.toml")
	created, err := ensureConfig(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ensureConfig(path)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultModelFile, cfg.Model.File)
}
