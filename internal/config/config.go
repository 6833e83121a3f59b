// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete pocketllm configuration.
type Config struct {
	Version string `toml:"version"`

	Model      ModelConfig      `toml:"model"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Generation GenerationConfig `toml:"generation"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
	UI         UIConfig         `toml:"ui"`
}

// ModelConfig describes the model artifact and its load parameters.
type ModelConfig struct {
	// URL is the remote location of the GGUF artifact.
	URL string `toml:"url" env:"POCKETLLM_MODEL_URL"`

	// File is the artifact's local file name inside Dir.
	File string `toml:"file" env:"POCKETLLM_MODEL_FILE"`

	// Dir holds downloaded artifacts. Default: ~/.pocketllm/models
	Dir string `toml:"dir" env:"POCKETLLM_MODEL_DIR"`

	ContextSize int  `toml:"context_size" env:"POCKETLLM_CONTEXT_SIZE"`
	GPULayers   int  `toml:"gpu_layers" env:"POCKETLLM_GPU_LAYERS"`
	UseMlock    bool `toml:"use_mlock" env:"POCKETLLM_USE_MLOCK"`

	// Watch drops the verified state when the artifact disappears from disk.
	Watch bool `toml:"watch" env:"POCKETLLM_MODEL_WATCH"`
}

// RuntimeConfig describes the local inference runtime.
type RuntimeConfig struct {
	OllamaURL string        `toml:"ollama_url" env:"POCKETLLM_OLLAMA_URL"`
	ModelName string        `toml:"model_name" env:"POCKETLLM_MODEL_NAME"`
	Timeout   time.Duration `toml:"timeout" env:"POCKETLLM_RUNTIME_TIMEOUT"`
}

// GenerationConfig controls completion requests.
type GenerationConfig struct {
	MaxTokens   int      `toml:"max_tokens" env:"POCKETLLM_MAX_TOKENS"`
	Temperature float64  `toml:"temperature" env:"POCKETLLM_TEMPERATURE"`
	Prompt      string   `toml:"prompt"`
	StopWords   []string `toml:"stop_words" env:"POCKETLLM_STOP_WORDS" envSeparator:","`

	// OnFailure is what happens to partial output when generation fails:
	// "keep" or "placeholder".
	OnFailure string `toml:"on_failure" env:"POCKETLLM_ON_FAILURE"`
}

// StorageConfig selects the chat store persistence backend.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend" env:"POCKETLLM_STORAGE"`
	Path    string `toml:"path" env:"POCKETLLM_STORAGE_PATH"`

	// IDs selects the conversation id source: "counter" or "uuid".
	IDs string `toml:"ids" env:"POCKETLLM_IDS"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `toml:"level" env:"POCKETLLM_LOG_LEVEL"`
	Pretty bool   `toml:"pretty" env:"POCKETLLM_LOG_PRETTY"`
	File   string `toml:"file" env:"POCKETLLM_LOG_FILE"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"POCKETLLM_METRICS"`
	Listen  string `toml:"listen" env:"POCKETLLM_METRICS_LISTEN"`
}

// UIConfig contains terminal presentation settings.
type UIConfig struct {
	// Theme is "auto", "dark" or "light".
	Theme          string `toml:"theme" env:"POCKETLLM_THEME"`
	CodeStyle      string `toml:"code_style"`
	RenderMarkdown bool   `toml:"render_markdown"`
	ShowReasoning  bool   `toml:"show_reasoning"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultModelURL  = "https://huggingface.co/talhabytheway/DeepSeek-R1-Distill-Qwen-1.5B-Q4_K_M-GGUF/resolve/main/deepseek-r1-distill-qwen-1.5b-q4_k_m.gguf?download=true"
	DefaultModelFile = "deepseek-r1-distill-qwen-1.5b-q4_k_m.gguf"

	DefaultPrompt = "This is a conversation between user and llama, a friendly chatbot. " +
		"Respond in simple markdown. First think about the every answer in <think></think> " +
		"and then send response\n\nUser: Hello!\nLlama:"
)

// DefaultStopWords are the end-of-turn markers emitted by the common chat
// templates.
var DefaultStopWords = []string{
	"</s>",
	"<|end|>",
	"<|eot_id|>",
	"<|end_of_text|>",
	"<|im_end|>",
	"<|EOT|>",
	"<|END_OF_TURN_TOKEN|>",
	"<|end_of_turn|>",
	"<|endoftext|>",
	"<|end_of_sentence|>",
	"<|END|>",
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Model: ModelConfig{
			URL:         DefaultModelURL,
			File:        DefaultModelFile,
			Dir:         defaultDir("models"),
			ContextSize: 2048,
			GPULayers:   1,
			UseMlock:    true,
			Watch:       true,
		},

		Runtime: RuntimeConfig{
			OllamaURL: "http://127.0.0.1:11434",
			ModelName: "pocketllm-deepseek-r1-1.5b",
			Timeout:   2 * time.Minute,
		},

		Generation: GenerationConfig{
			MaxTokens:   2000,
			Temperature: 0.7,
			Prompt:      DefaultPrompt,
			StopWords:   append([]string(nil), DefaultStopWords...),
			OnFailure:   "keep",
		},

		Storage: StorageConfig{
			Backend: "file",
			Path:    defaultDir("chats"),
			IDs:     "counter",
		},

		Log: LogConfig{
			Level: "info",
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},

		UI: UIConfig{
			Theme:          "auto",
			CodeStyle:      "monokai",
			RenderMarkdown: true,
			ShowReasoning:  false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the pocketllm configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".pocketllm"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultDir(elem string) string {
	dir, err := Dir()
	if err != nil {
		return filepath.Join(".pocketllm", elem)
	}
	return filepath.Join(dir, elem)
}

// ModelPath returns the full local path of the model artifact.
func (c *Config) ModelPath() string {
	return filepath.Join(c.Model.Dir, c.Model.File)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.pocketllm/config.toml if it exists, then applies environment
// overrides, fills defaults and validates.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file: %w", err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overwrites fields whose POCKETLLM_* variable is set.
// Unset variables leave the current value alone.
func (c *Config) ApplyEnvOverrides() error {
	return env.Parse(c)
}

// fillDefaults fills in any zero values a partial config file left behind.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.Model.URL == "" {
		cfg.Model.URL = defaults.Model.URL
	}
	if cfg.Model.File == "" {
		cfg.Model.File = defaults.Model.File
	}
	if cfg.Model.Dir == "" {
		cfg.Model.Dir = defaults.Model.Dir
	}
	if cfg.Model.ContextSize == 0 {
		cfg.Model.ContextSize = defaults.Model.ContextSize
	}

	if cfg.Runtime.OllamaURL == "" {
		cfg.Runtime.OllamaURL = defaults.Runtime.OllamaURL
	}
	if cfg.Runtime.ModelName == "" {
		cfg.Runtime.ModelName = defaults.Runtime.ModelName
	}
	if cfg.Runtime.Timeout == 0 {
		cfg.Runtime.Timeout = defaults.Runtime.Timeout
	}

	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = defaults.Generation.MaxTokens
	}
	if cfg.Generation.Prompt == "" {
		cfg.Generation.Prompt = defaults.Generation.Prompt
	}
	if cfg.Generation.StopWords == nil {
		cfg.Generation.StopWords = defaults.Generation.StopWords
	}
	if cfg.Generation.OnFailure == "" {
		cfg.Generation.OnFailure = defaults.Generation.OnFailure
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Backend == "sqlite" {
			cfg.Storage.Path = defaultDir("chats.db")
		} else {
			cfg.Storage.Path = defaults.Storage.Path
		}
	}
	if cfg.Storage.IDs == "" {
		cfg.Storage.IDs = defaults.Storage.IDs
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = defaults.Metrics.Listen
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.UI.CodeStyle == "" {
		cfg.UI.CodeStyle = defaults.UI.CodeStyle
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to path as TOML with owner-only permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# pocketllm configuration file")
	fmt.Fprintln(file, "#")
	fmt.Fprintln(file, "# Every key can be overridden with a POCKETLLM_* environment variable.")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Model.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "model.url",
			Message: fmt.Sprintf("invalid artifact URL '%s', must be http or https", c.Model.URL),
		})
	}
	if strings.ContainsAny(c.Model.File, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "model.file",
			Message: "must be a file name, not a path",
		})
	}
	if c.Model.ContextSize < 0 {
		errs = append(errs, ValidationError{Field: "model.context_size", Message: "must not be negative"})
	}

	if u, err := url.Parse(c.Runtime.OllamaURL); err != nil || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "runtime.ollama_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Runtime.OllamaURL),
		})
	}

	if c.Generation.MaxTokens < 1 {
		errs = append(errs, ValidationError{Field: "generation.max_tokens", Message: "must be at least 1"})
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "generation.temperature",
			Message: fmt.Sprintf("%.2f out of range, must be between 0 and 2", c.Generation.Temperature),
		})
	}
	if c.Generation.OnFailure != "keep" && c.Generation.OnFailure != "placeholder" {
		errs = append(errs, ValidationError{
			Field:   "generation.on_failure",
			Message: fmt.Sprintf("invalid policy '%s', must be one of: keep, placeholder", c.Generation.OnFailure),
		})
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend),
		})
	}
	switch c.Storage.IDs {
	case "counter", "uuid":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.ids",
			Message: fmt.Sprintf("invalid id source '%s', must be one of: counter, uuid", c.Storage.IDs),
		})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}

	switch c.UI.Theme {
	case "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
