package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.OllamaHost != "http://localhost:11434" {
		t.Errorf("OllamaHost = %s", cfg.OllamaHost)
	}
	if cfg.GetContextLevel() != 1 {
		t.Errorf("context level = %d, want 1", cfg.GetContextLevel())
	}
	if cfg.GetCallersThreshold() != 3 {
		t.Errorf("callers threshold = %d, want 3", cfg.GetCallersThreshold())
	}
	if !cfg.GetReSummarizeOnImportsChange() {
		t.Error("re_summarize_on_imports_change should default on")
	}
	if !cfg.GetUseGitignore() {
		t.Error("use_gitignore should default on")
	}
}

func TestLoad_MergeOrder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	globalDir := filepath.Join(home, GlobalConfigDir)
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	global := `{"default_model": "global-model", "top_k": 9, "log_level": "debug"}`
	if err := os.WriteFile(filepath.Join(globalDir, GlobalConfigFile), []byte(global), 0o644); err != nil {
		t.Fatal(err)
	}

	dataDir := t.TempDir()
	project := `{"default_model": "project-model"}`
	if err := os.WriteFile(filepath.Join(dataDir, "config.json"), []byte(project), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dataDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Project wins over global, global wins over defaults, defaults fill
	// the rest.
	if cfg.DefaultModel != "project-model" {
		t.Errorf("DefaultModel = %s, want project-model", cfg.DefaultModel)
	}
	if cfg.GetTopK() != 9 {
		t.Errorf("TopK = %d, want 9 from global", cfg.GetTopK())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug from global", cfg.LogLevel)
	}
	if cfg.DefaultEmbeddingModel != "nomic-embed-text" {
		t.Errorf("DefaultEmbeddingModel = %s, want built-in default", cfg.DefaultEmbeddingModel)
	}
}

func TestLoad_MissingFilesAreFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load with no config files failed: %v", err)
	}
	if cfg.DefaultModel != "llama3.2" {
		t.Errorf("DefaultModel = %s, want default", cfg.DefaultModel)
	}
}

func TestLoad_BadJSONFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "config.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dataDir); err == nil {
		t.Error("expected parse error")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PARANOID_TEST_HOST", "http://example:1234")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braces", `${PARANOID_TEST_HOST}`, "http://example:1234"},
		{"simple", `$PARANOID_TEST_HOST`, "http://example:1234"},
		{"default used", `${PARANOID_TEST_UNSET:-fallback}`, "fallback"},
		{"default unused", `${PARANOID_TEST_HOST:-fallback}`, "http://example:1234"},
		{"unset simple stays", `$PARANOID_TEST_UNSET`, "$PARANOID_TEST_UNSET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestZapLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.ZapLevel(); got != tt.want {
			t.Errorf("ZapLevel(%s) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
