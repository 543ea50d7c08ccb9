// Package config loads the merged runtime configuration: built-in defaults,
// then the global ~/.paranoid/config.json, then the project config. The
// merged result is built once per command and treated as immutable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// GlobalConfigDir is the directory under $HOME holding the global config.
const GlobalConfigDir = ".paranoid"

// GlobalConfigFile is the global config file name.
const GlobalConfigFile = "config.json"

// Config is the merged configuration for a single command run.
type Config struct {
	DefaultModel           string `json:"default_model,omitempty"`
	DefaultEmbeddingModel  string `json:"default_embedding_model,omitempty"`
	DefaultClassifierModel string `json:"default_classifier_model,omitempty"`
	OllamaHost             string `json:"ollama_host,omitempty"`
	DefaultContextLevel    *int   `json:"default_context_level,omitempty"`
	DefaultLanguage        string `json:"default_language,omitempty"`

	// Smart invalidation.
	CallersThreshold           *int  `json:"callers_threshold,omitempty"`
	CalleesThreshold           *int  `json:"callees_threshold,omitempty"`
	ReSummarizeOnImportsChange *bool `json:"re_summarize_on_imports_change,omitempty"`

	// Ignore options.
	UseGitignore       *bool    `json:"use_gitignore,omitempty"`
	BuiltinPatterns    *bool    `json:"builtin_patterns,omitempty"`
	AdditionalPatterns []string `json:"additional_patterns,omitempty"`

	// Model host call behavior.
	RequestTimeoutSec *int     `json:"request_timeout_sec,omitempty"`
	MaxContextChars   *int     `json:"max_context_chars,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`

	// Retrieval.
	TopK *int `json:"top_k,omitempty"`

	// Workers and batching.
	WorkerCount *int `json:"worker_count,omitempty"`
	BatchSize   *int `json:"batch_size,omitempty"`

	// Bloom negative cache for the indexer.
	BloomEnabled           *bool    `json:"bloom_enabled,omitempty"`
	BloomExpectedItems     *uint    `json:"bloom_expected_items,omitempty"`
	BloomFalsePositiveRate *float64 `json:"bloom_false_positive_rate,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
}

// Defaults returns the built-in configuration layer.
func Defaults() *Config {
	ctxLevel := 1
	callers := 3
	callees := 3
	reImports := true
	gitignore := true
	builtins := true
	timeout := 120
	maxCtx := 32768
	temp := 0.3
	maxTok := 500
	topK := 5
	workers := 4
	batch := 50
	bloom := true
	bloomItems := uint(100000)
	bloomFPR := 0.01

	return &Config{
		DefaultModel:               "llama3.2",
		DefaultEmbeddingModel:      "nomic-embed-text",
		DefaultClassifierModel:     "llama3.2",
		OllamaHost:                 "http://localhost:11434",
		DefaultContextLevel:        &ctxLevel,
		DefaultLanguage:            "unknown",
		CallersThreshold:           &callers,
		CalleesThreshold:           &callees,
		ReSummarizeOnImportsChange: &reImports,
		UseGitignore:               &gitignore,
		BuiltinPatterns:            &builtins,
		RequestTimeoutSec:          &timeout,
		MaxContextChars:            &maxCtx,
		Temperature:                &temp,
		MaxTokens:                  &maxTok,
		TopK:                       &topK,
		WorkerCount:                &workers,
		BatchSize:                  &batch,
		BloomEnabled:               &bloom,
		BloomExpectedItems:         &bloomItems,
		BloomFalsePositiveRate:     &bloomFPR,
		LogLevel:                   "info",
	}
}

// Load merges defaults, the global config, and the project config (in that
// order). Either file may be absent. projectDataDir is the project's
// .paranoid-coder directory, or "" when no project is open yet.
func Load(projectDataDir string) (*Config, error) {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if err := overlayFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("global config: %w", err)
		}
	}

	if projectDataDir != "" {
		projectPath := filepath.Join(projectDataDir, "config.json")
		if err := overlayFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("project config: %w", err)
		}
	}

	return cfg, nil
}

// overlayFile decodes path over cfg. Keys absent from the file keep their
// current values; a missing file is not an error.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))
	if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

var (
	reBraces = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)
	reSimple = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR in config text.
func expandEnvVars(s string) string {
	s = reBraces.ReplaceAllStringFunc(s, func(match string) string {
		parts := reBraces.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(parts[1]); ok {
			return val
		}
		if len(parts) >= 4 {
			return parts[3]
		}
		return ""
	})

	s = reSimple.ReplaceAllStringFunc(s, func(match string) string {
		parts := reSimple.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(parts[1]); ok {
			return val
		}
		return match
	})

	return s
}

// ZapLevel converts the configured log level to a zapcore.Level.
func (c *Config) ZapLevel() zapcore.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (c *Config) GetContextLevel() int {
	if c.DefaultContextLevel == nil {
		return 1
	}
	return *c.DefaultContextLevel
}

func (c *Config) GetCallersThreshold() int {
	if c.CallersThreshold == nil {
		return 3
	}
	return *c.CallersThreshold
}

func (c *Config) GetCalleesThreshold() int {
	if c.CalleesThreshold == nil {
		return 3
	}
	return *c.CalleesThreshold
}

func (c *Config) GetReSummarizeOnImportsChange() bool {
	if c.ReSummarizeOnImportsChange == nil {
		return true
	}
	return *c.ReSummarizeOnImportsChange
}

func (c *Config) GetUseGitignore() bool {
	return c.UseGitignore == nil || *c.UseGitignore
}

func (c *Config) GetBuiltinPatterns() bool {
	return c.BuiltinPatterns == nil || *c.BuiltinPatterns
}

func (c *Config) GetRequestTimeoutSec() int {
	if c.RequestTimeoutSec == nil || *c.RequestTimeoutSec <= 0 {
		return 120
	}
	return *c.RequestTimeoutSec
}

func (c *Config) GetMaxContextChars() int {
	if c.MaxContextChars == nil || *c.MaxContextChars <= 0 {
		return 32768
	}
	return *c.MaxContextChars
}

func (c *Config) GetTemperature() float64 {
	if c.Temperature == nil {
		return 0.3
	}
	return *c.Temperature
}

func (c *Config) GetMaxTokens() int {
	if c.MaxTokens == nil || *c.MaxTokens <= 0 {
		return 500
	}
	return *c.MaxTokens
}

func (c *Config) GetTopK() int {
	if c.TopK == nil || *c.TopK <= 0 {
		return 5
	}
	return *c.TopK
}

func (c *Config) GetWorkerCount() int {
	if c.WorkerCount == nil || *c.WorkerCount <= 0 {
		return 4
	}
	return *c.WorkerCount
}

func (c *Config) GetBatchSize() int {
	if c.BatchSize == nil || *c.BatchSize <= 0 {
		return 50
	}
	return *c.BatchSize
}

func (c *Config) GetBloomEnabled() bool {
	return c.BloomEnabled == nil || *c.BloomEnabled
}

func (c *Config) GetBloomExpectedItems() uint {
	if c.BloomExpectedItems == nil || *c.BloomExpectedItems == 0 {
		return 100000
	}
	return *c.BloomExpectedItems
}

func (c *Config) GetBloomFalsePositiveRate() float64 {
	if c.BloomFalsePositiveRate == nil || *c.BloomFalsePositiveRate <= 0 {
		return 0.01
	}
	return *c.BloomFalsePositiveRate
}
