package llm

import (
	"log/slog"
	"time"

	"chorus/internal/config"
)

// SetupProviders wires the credential provider and the backend registry from
// configuration.
func SetupProviders(cfg *config.Config, logger *slog.Logger) *ProviderRegistry {
	source := StaticCredentials(map[string]string{
		"anthropic": cfg.AnthropicAPIKey,
		"openai":    cfg.OpenAIAPIKey,
	})
	creds := NewCachingCredentialProvider(source, time.Duration(cfg.CredentialTTLSeconds)*time.Second)

	registry := NewProviderRegistry(creds, cfg.OpenAIBaseURL)

	logger.Info("completion providers configured",
		"anthropic", cfg.AnthropicAPIKey != "",
		"openai", cfg.OpenAIAPIKey != "",
		"credential_ttl_seconds", cfg.CredentialTTLSeconds,
	)
	return registry
}
