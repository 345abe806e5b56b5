package chat

import (
	"context"
)

// PriceTable supplies per-model token rates in USD per token. The metrics
// aggregator carries no pricing knowledge of its own.
type PriceTable interface {
	// Rates returns the input and output USD-per-token rates for a model.
	// ok is false for unknown models, whose cost then counts as zero.
	Rates(model string) (input, output float64, ok bool)
}

// ModelUsage is the usage rollup for one model (or the conversation total).
type ModelUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	ResponseCount    int     `json:"response_count"`
}

// UsageReport is the per-conversation metrics rollup.
type UsageReport struct {
	PerModel map[string]ModelUsage `json:"per_model"`
	Total    ModelUsage            `json:"total"`
}

// MetricsService computes usage and cost rollups from stored turn metrics.
type MetricsService interface {
	// ConversationMetrics aggregates over every assistant turn of the
	// conversation, superseded turns included, so paid-for tokens are never
	// dropped from cost reporting.
	ConversationMetrics(ctx context.Context, conversationID, userID string) (*UsageReport, error)
}
