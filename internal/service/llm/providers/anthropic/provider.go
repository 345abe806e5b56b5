package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	domainllm "chorus/internal/domain/services/llm"
)

const defaultMaxTokens = 4096

// Provider implements the CompletionProvider interface for Anthropic
// (Claude) models.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client: &client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Complete sends the projected history to the Messages API and returns the
// answer with usage.
func (p *Provider) Complete(ctx context.Context, req *domainllm.CompletionRequest) (*domainllm.Completion, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	system, messages := convertMessages(req.Messages)

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*req.Temperature)
	}
	if system != "" {
		apiParams.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: system,
			},
		}
	}

	message, err := p.client.Messages.New(ctx, apiParams)
	if err != nil {
		return nil, classifyError(err)
	}

	content := collectText(message)
	if content == "" {
		return nil, &domainllm.ProviderError{
			Kind:    domainllm.ErrKindInvalidResponse,
			Message: "anthropic response contained no text content",
		}
	}

	return &domainllm.Completion{
		Content: content,
		Model:   string(message.Model),
		Usage: domainllm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// convertMessages maps projected history to Anthropic message params. A
// leading system message is lifted into the native system slot; consecutive
// same-role messages are merged since the Messages API requires alternating
// roles.
func convertMessages(messages []domainllm.Message) (system string, result []anthropic.MessageParam) {
	for _, msg := range messages {
		if msg.Role == "system" {
			if system == "" {
				system = msg.Content
			} else {
				system += "\n\n" + msg.Content
			}
			continue
		}

		if n := len(result); n > 0 && sameRole(result[n-1], msg.Role) {
			result[n-1].Content = append(result[n-1].Content, anthropic.NewTextBlock(msg.Content))
			continue
		}

		switch msg.Role {
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, result
}

func sameRole(param anthropic.MessageParam, role string) bool {
	if role == "assistant" {
		return param.Role == anthropic.MessageParamRoleAssistant
	}
	return param.Role == anthropic.MessageParamRoleUser
}

// collectText concatenates the text blocks of a response.
func collectText(message *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// classifyError maps SDK errors to the branch error taxonomy.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &domainllm.ProviderError{
			Kind:    domainllm.ClassifyStatus(apiErr.StatusCode),
			Status:  apiErr.StatusCode,
			Message: apiErr.Error(),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domainllm.ProviderError{
			Kind:    domainllm.ErrKindTimeout,
			Message: "anthropic call exceeded branch deadline",
		}
	}
	return fmt.Errorf("anthropic API call failed: %w", err)
}
