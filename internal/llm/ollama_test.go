package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

func newTestHost(t *testing.T, handler http.HandlerFunc) *OllamaHost {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOllamaHost(server.URL, 5*time.Second, zap.NewNop())
}

func TestGenerate(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("streaming must be off")
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:           "llama3.2:latest",
			Response:        "a summary",
			Done:            true,
			PromptEvalCount: 100,
			EvalCount:       20,
		})
	})

	resp, err := host.Generate(context.Background(), "llama3.2", "describe this", GenerateOptions{
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "a summary" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ModelVersion != "llama3.2:latest" {
		t.Errorf("model version = %q", resp.ModelVersion)
	}
	if resp.TokensUsed != 120 {
		t.Errorf("tokens = %d, want 120", resp.TokensUsed)
	}
	if resp.Elapsed <= 0 {
		t.Error("elapsed should be recorded")
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	host := NewOllamaHost("http://localhost:1", time.Second, zap.NewNop())
	if _, err := host.Generate(context.Background(), "m", "", GenerateOptions{}); err == nil {
		t.Error("empty prompt must be rejected before any network call")
	}
}

func TestGenerate_ModelNotFound(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := host.Generate(context.Background(), "nope", "prompt", GenerateOptions{})
	if !errs.Is(err, errs.ModelNotFound) {
		t.Errorf("expected ModelNotFound, got %v", err)
	}
}

func TestGenerate_ModelError(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := host.Generate(context.Background(), "m", "prompt", GenerateOptions{})
	if !errs.Is(err, errs.ModelError) {
		t.Errorf("expected ModelError, got %v", err)
	}
}

func TestGenerate_HostUnreachable(t *testing.T) {
	// Nothing listens here.
	host := NewOllamaHost("http://127.0.0.1:1", time.Second, zap.NewNop())

	_, err := host.Generate(context.Background(), "m", "prompt", GenerateOptions{})
	if !errs.Is(err, errs.ModelHostUnreachable) {
		t.Errorf("expected ModelHostUnreachable, got %v", err)
	}
}

func TestGenerateSimple(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Options == nil || req.Options.Temperature != 0 {
			t.Error("classifier calls run at temperature 0")
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "  USAGE\n", Done: true})
	})

	out, err := host.GenerateSimple(context.Background(), "m", "classify")
	if err != nil {
		t.Fatal(err)
	}
	if out != "USAGE" {
		t.Errorf("output = %q, want trimmed USAGE", out)
	}
}

func TestEmbed(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{0.5, -0.25, 1}})
	})

	vec, err := host.Embed(context.Background(), "nomic-embed-text", "some text")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -0.25 || vec[2] != 1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbed_EmptyEmbedding(t *testing.T) {
	host := newTestHost(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbeddingResponse{})
	})

	if _, err := host.Embed(context.Background(), "m", "text"); !errs.Is(err, errs.ModelError) {
		t.Errorf("expected ModelError for empty embedding, got %v", err)
	}
}

func TestExtractThinkingContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "This is a simple response", "This is a simple response"},
		{"after think", "<think>reasoning</think>The answer", "The answer"},
		{"only think", "<think>all reasoning, no answer</think>", "all reasoning, no answer"},
		{"unclosed think", "<think>still thinking...", "still thinking..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractThinkingContent(tt.input); got != tt.expected {
				t.Errorf("extractThinkingContent(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsThinkingModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"qwen3:8b", true},
		{"deepseek-r1", true},
		{"llama3.2", false},
		{"nomic-embed-text", false},
	}

	for _, tt := range tests {
		if got := isThinkingModel(tt.model); got != tt.want {
			t.Errorf("isThinkingModel(%s) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
