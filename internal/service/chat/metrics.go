package chat

import (
	"context"
	"log/slog"

	chatModels "chorus/internal/domain/models/chat"
	chatRepo "chorus/internal/domain/repositories/chat"
	chatSvc "chorus/internal/domain/services/chat"
)

// MetricsService computes per-conversation usage and cost rollups.
type MetricsService struct {
	conversationRepo chatRepo.ConversationRepository
	turnRepo         chatRepo.TurnRepository
	prices           chatSvc.PriceTable
	logger           *slog.Logger
}

var _ chatSvc.MetricsService = (*MetricsService)(nil)

// NewMetricsService creates a metrics aggregation service
func NewMetricsService(
	conversationRepo chatRepo.ConversationRepository,
	turnRepo chatRepo.TurnRepository,
	prices chatSvc.PriceTable,
	logger *slog.Logger,
) *MetricsService {
	return &MetricsService{
		conversationRepo: conversationRepo,
		turnRepo:         turnRepo,
		prices:           prices,
		logger:           logger,
	}
}

// ConversationMetrics aggregates over every assistant turn of the
// conversation. Superseded turns count too: their tokens were paid for.
func (s *MetricsService) ConversationMetrics(ctx context.Context, conversationID, userID string) (*chatSvc.UsageReport, error) {
	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	turns, err := s.turnRepo.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return Aggregate(turns, s.prices), nil
}

// Aggregate rolls stored turn metrics up into per-model and total usage.
//
// Pure read-side arithmetic: cost is promptTokens*inputRate +
// completionTokens*outputRate summed across turns, with rates supplied by
// the caller. Missing or zero metrics count as zero; an empty turn set
// yields a zero report.
func Aggregate(turns []chatModels.Turn, prices chatSvc.PriceTable) *chatSvc.UsageReport {
	report := &chatSvc.UsageReport{
		PerModel: make(map[string]chatSvc.ModelUsage),
	}

	// Duration sums are kept separate so averages come out of one pass.
	durations := make(map[string]int)
	totalDuration := 0

	for _, turn := range turns {
		if turn.Role != chatModels.RoleAssistant || turn.Model == nil {
			continue
		}
		model := *turn.Model
		usage := report.PerModel[model]

		prompt, completion := 0, 0
		if turn.PromptTokens != nil {
			prompt = *turn.PromptTokens
		}
		if turn.CompletionTokens != nil {
			completion = *turn.CompletionTokens
		}

		usage.PromptTokens += prompt
		usage.CompletionTokens += completion
		usage.TotalTokens += prompt + completion
		usage.ResponseCount++

		if inputRate, outputRate, ok := prices.Rates(model); ok {
			usage.CostUSD += float64(prompt)*inputRate + float64(completion)*outputRate
		}

		if turn.DurationMs != nil {
			durations[model] += *turn.DurationMs
			totalDuration += *turn.DurationMs
		}

		report.PerModel[model] = usage
	}

	for model, usage := range report.PerModel {
		if usage.ResponseCount > 0 {
			usage.AvgDurationMs = float64(durations[model]) / float64(usage.ResponseCount)
			report.PerModel[model] = usage
		}

		report.Total.PromptTokens += usage.PromptTokens
		report.Total.CompletionTokens += usage.CompletionTokens
		report.Total.TotalTokens += usage.TotalTokens
		report.Total.CostUSD += usage.CostUSD
		report.Total.ResponseCount += usage.ResponseCount
	}
	if report.Total.ResponseCount > 0 {
		report.Total.AvgDurationMs = float64(totalDuration) / float64(report.Total.ResponseCount)
	}

	return report
}
