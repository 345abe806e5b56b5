package lorem

import (
	"context"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	domainllm "chorus/internal/domain/services/llm"
)

// Provider is a mock completion backend that generates lorem ipsum text.
// Used for development and tests without real API keys. "lorem-slow" takes
// ten seconds per call so timeout handling can be exercised end to end.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// Complete generates a lorem ipsum paragraph after a model-dependent delay,
// simulating a blocking upstream call.
func (p *Provider) Complete(ctx context.Context, req *domainllm.CompletionRequest) (*domainllm.Completion, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	select {
	case <-time.After(p.delayFor(req.Model)):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sentences := 3
	if req.MaxTokens != nil && *req.MaxTokens < 256 {
		sentences = 1
	}
	text := p.generator.Paragraph(sentences, sentences)

	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += len(strings.Fields(msg.Content))
	}
	completionTokens := len(strings.Fields(text))

	return &domainllm.Completion{
		Content: text,
		Model:   req.Model,
		Usage: domainllm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (p *Provider) delayFor(model string) time.Duration {
	if strings.HasSuffix(model, "-slow") {
		return 10 * time.Second
	}
	return 100 * time.Millisecond
}
