package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

// OllamaHost implements Host against a locally reachable Ollama endpoint.
type OllamaHost struct {
	apiURL string
	logger *zap.Logger
	client *http.Client
}

// NewOllamaHost creates a client for the given base URL with a per-call
// timeout. LLM generation can be slow; the timeout comes from config.
func NewOllamaHost(apiURL string, timeout time.Duration, logger *zap.Logger) *OllamaHost {
	if apiURL == "" {
		apiURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaHost{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Thinking        string `json:"thinking,omitempty"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Generate calls /api/generate and returns the processed response.
func (o *OllamaHost) Generate(ctx context.Context, mdl, prompt string, opts GenerateOptions) (*GenerateResponse, error) {
	if prompt == "" {
		return nil, errs.New(errs.ModelError, "prompt cannot be empty")
	}
	if opts.Model != "" {
		mdl = opts.Model
	}

	// Thinking models answer in a reasoning channel unless told not to.
	finalPrompt := prompt
	if isThinkingModel(mdl) {
		finalPrompt = "/no_think " + prompt
	}

	reqBody := ollamaGenerateRequest{
		Model:  mdl,
		Prompt: finalPrompt,
		System: opts.System,
		Stream: false,
		Options: &ollamaOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	}

	start := time.Now()
	bodyBytes, err := o.post(ctx, "/api/generate", reqBody)
	if err != nil {
		return nil, err
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(bodyBytes, &genResp); err != nil {
		return nil, errs.Wrap(errs.ModelError, err, "decode generate response")
	}

	content := genResp.Response
	if content != "" {
		content = cleanThinkingTags(extractThinkingContent(content))
	} else if genResp.Thinking != "" {
		content = strings.TrimSpace(genResp.Thinking)
	}

	o.logger.Debug("Generate completed",
		zap.String("model", mdl),
		zap.Int("prompt_length", len(prompt)),
		zap.Int("output_tokens", genResp.EvalCount))

	return &GenerateResponse{
		Content:      content,
		Model:        mdl,
		ModelVersion: genResp.Model,
		TokensUsed:   genResp.PromptEvalCount + genResp.EvalCount,
		Elapsed:      time.Since(start),
	}, nil
}

// GenerateSimple is the classifier-shaped call: temperature 0, a small
// predict cap, trimmed text out.
func (o *OllamaHost) GenerateSimple(ctx context.Context, mdl, prompt string) (string, error) {
	resp, err := o.Generate(ctx, mdl, prompt, GenerateOptions{
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Embed calls /api/embeddings and converts to float32.
func (o *OllamaHost) Embed(ctx context.Context, mdl, text string) ([]float32, error) {
	if text == "" {
		return nil, errs.New(errs.ModelError, "text cannot be empty")
	}

	bodyBytes, err := o.post(ctx, "/api/embeddings", ollamaEmbeddingRequest{
		Model:  mdl,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	var embResp ollamaEmbeddingResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, errs.Wrap(errs.ModelError, err, "decode embedding response")
	}
	if len(embResp.Embedding) == 0 {
		return nil, errs.New(errs.ModelError, "host returned an empty embedding for model %s", mdl)
	}

	embedding := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// post sends one JSON request and maps transport and status failures onto
// the error taxonomy.
func (o *OllamaHost) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.ModelError, err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errs.Wrap(errs.ModelError, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.ModelHostUnreachable, err, "model host at %s", o.apiURL).
				WithRemedy("check that the model host is running", "ollama serve")
		}
		return nil, errs.Wrap(errs.ModelHostUnreachable, err, "model host at %s", o.apiURL).
			WithRemedy("check ollama_host in the configuration")
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ModelError, err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.ModelNotFound, "model host returned 404: %s", truncateString(string(bodyBytes), 200)).
			WithRemedy("pull the model first", "ollama pull <model>")
	case resp.StatusCode != http.StatusOK:
		return nil, errs.New(errs.ModelError, "model host returned status %d: %s",
			resp.StatusCode, truncateString(string(bodyBytes), 200))
	}
	return bodyBytes, nil
}

// extractThinkingContent handles models that wrap reasoning in
// <think>...</think> tags, returning the content after the closing tag
// when present.
func extractThinkingContent(response string) string {
	response = strings.TrimSpace(response)
	if response == "" {
		return ""
	}

	const thinkEnd = "</think>"
	if idx := strings.Index(response, thinkEnd); idx != -1 {
		afterThink := strings.TrimSpace(response[idx+len(thinkEnd):])
		if afterThink != "" {
			return afterThink
		}
		const thinkStart = "<think>"
		if startIdx := strings.Index(response, thinkStart); startIdx != -1 {
			return strings.TrimSpace(response[startIdx+len(thinkStart) : idx])
		}
	}

	const thinkStart = "<think>"
	if idx := strings.Index(response, thinkStart); idx != -1 {
		return strings.TrimSpace(response[idx+len(thinkStart):])
	}
	return response
}

func cleanThinkingTags(content string) string {
	content = strings.ReplaceAll(content, "<think>", "")
	content = strings.ReplaceAll(content, "</think>", "")
	return strings.TrimSpace(content)
}

func isThinkingModel(mdl string) bool {
	mdl = strings.ToLower(mdl)
	return strings.HasPrefix(mdl, "qwen3") || strings.Contains(mdl, "deepseek-r1")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
