// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2000, cfg.Generation.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 2048, cfg.Model.ContextSize)
	assert.Equal(t, 1, cfg.Model.GPULayers)
	assert.True(t, cfg.Model.UseMlock)
	assert.Contains(t, cfg.Generation.StopWords, "<|im_end|>")
	assert.Len(t, cfg.Generation.StopWords, len(DefaultStopWords))
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModelFile, cfg.Model.File)
}

func TestLoadFromPath_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[generation]
max_tokens = 512
temperature = 0.2

[runtime]
timeout = "45s"

[storage]
backend = "sqlite"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Generation.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Runtime.Timeout)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	// Untouched sections keep their defaults.
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Runtime.OllamaURL)
	assert.Equal(t, DefaultPrompt, cfg.Generation.Prompt)
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	t.Setenv("POCKETLLM_MAX_TOKENS", "64")
	t.Setenv("POCKETLLM_OLLAMA_URL", "http://10.0.0.2:11434")
	t.Setenv("POCKETLLM_STOP_WORDS", "<|a|>,<|b|>")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Generation.MaxTokens)
	assert.Equal(t, "http://10.0.0.2:11434", cfg.Runtime.OllamaURL)
	assert.Equal(t, []string{"<|a|>", "<|b|>"}, cfg.Generation.StopWords)
}

func TestLoadFromPath_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[generation\nmax_tokens = "), 0600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Generation.MaxTokens = 0
	cfg.Generation.Temperature = 3
	cfg.Storage.Backend = "postgres"
	cfg.Model.File = "../escape.gguf"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{
		"generation.max_tokens",
		"generation.temperature",
		"storage.backend",
		"model.file",
	}, fields)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Generation.MaxTokens = 321
	cfg.UI.Theme = "light"

	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("config mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 321, loaded.Generation.MaxTokens)
	assert.Equal(t, "light", loaded.UI.Theme)
	assert.Equal(t, cfg.Runtime.Timeout, loaded.Runtime.Timeout)
}

func TestModelPath(t *testing.T) {
	cfg := Default()
	cfg.Model.Dir = filepath.Join("a", "b")
	assert.Equal(t, filepath.Join("a", "b", DefaultModelFile), cfg.ModelPath())
}

// TestConfig_ConcurrentAccess checks Global and SetGlobal under the race detector.
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)
	SetGlobal(Default())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}
