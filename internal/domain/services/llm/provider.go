package llm

import (
	"context"
)

// CompletionProvider is the boundary to one upstream chat-completion backend.
// Implementations wrap a single blocking call per model; streaming is out of
// scope for the dispatch engine.
type CompletionProvider interface {
	// Complete sends the ordered message history to the backend and returns
	// the assistant's answer with usage. Failures are returned as
	// *ProviderError so callers can classify them per branch.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Name returns the provider name (e.g., "anthropic", "openai")
	Name() string

	// SupportsModel returns true if the provider serves the given model
	SupportsModel(model string) bool
}

// Message is a single entry of the projected conversation history sent
// upstream. Role is "user", "assistant" or "system".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest contains the parameters for one completion call.
type CompletionRequest struct {
	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// Messages is the per-branch projected history, oldest first. A leading
	// system message, when present, is lifted into the provider's native
	// system slot by the adapter.
	Messages []Message

	// Temperature, if set, overrides the backend default
	Temperature *float64

	// MaxTokens, if set, caps the completion length
	MaxTokens *int
}

// Usage holds the token counts reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the backend's answer for one branch.
type Completion struct {
	// Content is the assistant's text answer
	Content string

	// Model is the model that answered (may differ from request if aliased)
	Model string

	// Usage holds prompt/completion token counts
	Usage Usage

	// DurationMs is the wall-clock time of the upstream call. Filled in by
	// the timing wrapper, not by individual providers.
	DurationMs int
}
