// Package llm talks to the local model host. The core consumes three
// operations against a single HTTP endpoint: generate, generate-simple
// (short, deterministic, used for classification) and embed.
package llm

import (
	"context"
	"time"
)

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	MaxTokens   int     // Predicted-token cap
	Temperature float64 // Sampling temperature (0.0-1.0)
	Model       string  // Optional model override
	System      string  // Optional system prompt
}

// GenerateResponse contains the host's answer and accounting.
type GenerateResponse struct {
	Content      string        // Generated text
	Model        string        // Model actually used
	ModelVersion string        // Host-reported model identifier
	TokensUsed   int           // Prompt + output tokens
	Elapsed      time.Duration // Wall time of the call
}

// Host is the model-host contract. All calls are cancellable through ctx
// and bounded by the per-call timeout configured on the client.
type Host interface {
	// Generate produces description or answer text.
	Generate(ctx context.Context, mdl, prompt string, opts GenerateOptions) (*GenerateResponse, error)

	// GenerateSimple is the short-form call used for classification:
	// temperature 0, low predict cap, bare text out.
	GenerateSimple(ctx context.Context, mdl, prompt string) (string, error)

	// Embed returns the embedding vector for text under the given model.
	// The dimension is fixed per model.
	Embed(ctx context.Context, mdl, text string) ([]float32, error)
}
