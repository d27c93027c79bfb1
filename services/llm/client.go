package llm

import "context"

// GenerationParams are the per-call generation knobs. Nil fields fall back
// to each backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder defines the contract for the embedding provider. An Embed
// failure surfaces as a retrieval-layer error and is never fatal to a turn.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
