package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domainllm "chorus/internal/domain/services/llm"
	"chorus/internal/service/llm/providers/anthropic"
	"chorus/internal/service/llm/providers/lorem"
	"chorus/internal/service/llm/providers/openai"
)

// ProviderRegistry routes model identifiers to completion backends.
// Instances are created lazily with credentials from the injected
// CredentialProvider and cached for reuse.
type ProviderRegistry struct {
	creds         CredentialProvider
	openAIBaseURL string
	cache         map[string]domainllm.CompletionProvider
	mu            sync.RWMutex
}

// NewProviderRegistry creates a provider registry backed by the given
// credential provider.
func NewProviderRegistry(creds CredentialProvider, openAIBaseURL string) *ProviderRegistry {
	return &ProviderRegistry{
		creds:         creds,
		openAIBaseURL: openAIBaseURL,
		cache:         make(map[string]domainllm.CompletionProvider),
	}
}

// ProviderFor returns the completion backend serving the given model.
// Implements the dispatcher's ProviderResolver interface.
func (r *ProviderRegistry) ProviderFor(model string) (domainllm.CompletionProvider, error) {
	name, err := providerNameFor(model)
	if err != nil {
		return nil, err
	}

	// Fast path: cache hit under read lock
	r.mu.RLock()
	if cached, exists := r.cache[name]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock
	if cached, exists := r.cache[name]; exists {
		return cached, nil
	}

	provider, err := r.create(name)
	if err != nil {
		return nil, fmt.Errorf("create provider '%s': %w", name, err)
	}

	// Wrap so completions carry wall-clock duration uniformly.
	timed := &timedProvider{inner: provider}
	r.cache[name] = timed
	return timed, nil
}

// Invalidate drops the cached backend and credential for a provider, e.g.
// after a key rotation. The next ProviderFor re-fetches both.
func (r *ProviderRegistry) Invalidate(name string) {
	r.creds.Invalidate(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

func (r *ProviderRegistry) create(name string) (domainllm.CompletionProvider, error) {
	switch name {
	case "anthropic":
		key, err := r.creds.Get(context.Background(), "anthropic")
		if err != nil {
			return nil, err
		}
		return anthropic.NewProvider(key)
	case "openai":
		key, err := r.creds.Get(context.Background(), "openai")
		if err != nil {
			return nil, err
		}
		return openai.NewProvider(key, r.openAIBaseURL)
	case "lorem":
		return lorem.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider '%s'", name)
	}
}

// providerNameFor extracts the provider from a model identifier.
func providerNameFor(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic", nil
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return "openai", nil
	case strings.HasPrefix(model, "lorem-"):
		return "lorem", nil
	default:
		return "", fmt.Errorf("no provider serves model '%s'", model)
	}
}

// timedProvider decorates a backend so every completion reports its
// wall-clock duration.
type timedProvider struct {
	inner domainllm.CompletionProvider
}

func (p *timedProvider) Name() string { return p.inner.Name() }

func (p *timedProvider) SupportsModel(model string) bool { return p.inner.SupportsModel(model) }

func (p *timedProvider) Complete(ctx context.Context, req *domainllm.CompletionRequest) (*domainllm.Completion, error) {
	start := time.Now()
	completion, err := p.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	completion.DurationMs = int(time.Since(start).Milliseconds())
	return completion, nil
}
