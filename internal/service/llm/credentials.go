package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CredentialSource fetches the API key for a provider name. Sources may hit
// a secret manager or just read static configuration.
type CredentialSource func(ctx context.Context, provider string) (string, error)

// CredentialProvider hands out provider API keys. Injected into the provider
// registry at construction time; there is no ambient global key cache, and
// rotation is an explicit Invalidate call.
type CredentialProvider interface {
	// Get returns the credential for a provider
	Get(ctx context.Context, provider string) (string, error)

	// Invalidate drops any cached credential for a provider, forcing the
	// next Get to hit the source
	Invalidate(provider string)
}

// StaticCredentials builds a source over a fixed provider->key map.
func StaticCredentials(keys map[string]string) CredentialSource {
	return func(_ context.Context, provider string) (string, error) {
		key, ok := keys[provider]
		if !ok || key == "" {
			return "", fmt.Errorf("no API key configured for provider %q", provider)
		}
		return key, nil
	}
}

type cachedCredential struct {
	value     string
	fetchedAt time.Time
}

// CachingCredentialProvider caches source lookups with a TTL. A TTL of zero
// caches forever (until Invalidate).
type CachingCredentialProvider struct {
	source CredentialSource
	ttl    time.Duration
	mu     sync.Mutex
	cache  map[string]cachedCredential
}

var _ CredentialProvider = (*CachingCredentialProvider)(nil)

// NewCachingCredentialProvider creates a credential provider with its own
// cache lifecycle.
func NewCachingCredentialProvider(source CredentialSource, ttl time.Duration) *CachingCredentialProvider {
	return &CachingCredentialProvider{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]cachedCredential),
	}
}

// Get returns the cached credential when fresh, otherwise fetches from the
// source and caches the result.
func (p *CachingCredentialProvider) Get(ctx context.Context, provider string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[provider]; ok {
		if p.ttl <= 0 || time.Since(entry.fetchedAt) < p.ttl {
			return entry.value, nil
		}
	}

	value, err := p.source(ctx, provider)
	if err != nil {
		return "", err
	}

	p.cache[provider] = cachedCredential{value: value, fetchedAt: time.Now()}
	return value, nil
}

// Invalidate drops the cached credential for a provider.
func (p *CachingCredentialProvider) Invalidate(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, provider)
}
