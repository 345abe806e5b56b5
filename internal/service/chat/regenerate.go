package chat

import (
	"context"
	"fmt"
	"log/slog"

	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	"chorus/internal/domain/repositories"
	chatRepo "chorus/internal/domain/repositories/chat"
	chatSvc "chorus/internal/domain/services/chat"
)

// Regenerator replaces a single model's latest answer by re-running the
// dispatcher's single-branch path, and handles model removal.
//
// Regeneration is all-or-nothing per model: the new turn is persisted and
// the old one superseded in one transaction, so a failed attempt never
// leaves the branch without an active answer.
type Regenerator struct {
	conversationRepo chatRepo.ConversationRepository
	turnRepo         chatRepo.TurnRepository
	membershipRepo   chatRepo.MembershipRepository
	dispatcher       *Dispatcher
	registry         chatSvc.ModelRegistryService
	txManager        repositories.TransactionManager
	logger           *slog.Logger
}

var _ chatSvc.RegenerationService = (*Regenerator)(nil)

// NewRegenerator creates a regeneration/removal controller
func NewRegenerator(
	conversationRepo chatRepo.ConversationRepository,
	turnRepo chatRepo.TurnRepository,
	membershipRepo chatRepo.MembershipRepository,
	dispatcher *Dispatcher,
	registry chatSvc.ModelRegistryService,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *Regenerator {
	return &Regenerator{
		conversationRepo: conversationRepo,
		turnRepo:         turnRepo,
		membershipRepo:   membershipRepo,
		dispatcher:       dispatcher,
		registry:         registry,
		txManager:        txManager,
		logger:           logger,
	}
}

// Regenerate re-answers the model's last user prompt. The fan-out is of size
// one: the same projection, deadline and classification rules as a dispatch
// branch apply. Branch failures come back inside the DispatchResult; the
// previous answer stays active in that case.
func (r *Regenerator) Regenerate(
	ctx context.Context,
	conversationID, userID, model string,
	opts chatSvc.BranchOptions,
) (*chatSvc.DispatchResult, error) {
	conv, err := r.conversationRepo.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	membership, err := r.membershipRepo.Get(ctx, conversationID, model)
	if err != nil {
		return nil, err
	}
	if membership.Visibility == chatModels.VisibilityRemoved {
		return nil, fmt.Errorf("%w: model %s was removed from the conversation", domain.ErrValidation, model)
	}

	history, err := r.turnRepo.ListActiveTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	anchor, previous := regenerationAnchor(history, model)
	if anchor == nil {
		return nil, fmt.Errorf("%w: no user turn to regenerate from", domain.ErrNotFound)
	}

	// The branch sees history up to its prompt: the answer being replaced
	// and anything newer stay out of the projection.
	truncated := historyThrough(history, anchor)
	projected := Project(truncated, model, conv.SystemPrompt)

	completion, branchErr := r.dispatcher.generate(ctx, model, projected, opts)
	if branchErr != nil {
		r.logger.Warn("regeneration failed, previous answer kept",
			"conversation_id", conversationID,
			"model", model,
			"kind", branchErr.Kind,
		)
		return &chatSvc.DispatchResult{Error: branchErr}, nil
	}

	turn := newAssistantTurn(conversationID, model, completion)
	err = r.txManager.ExecTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		if err := r.turnRepo.AppendTurn(txCtx, turn); err != nil {
			return fmt.Errorf("persist regenerated turn: %w", err)
		}
		if previous != nil {
			if err := r.turnRepo.SupersedeTurn(txCtx, previous.ID); err != nil {
				return fmt.Errorf("supersede turn %s: %w", previous.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("turn regenerated",
		"conversation_id", conversationID,
		"model", model,
		"turn_id", turn.ID,
		"superseded", previous != nil,
	)

	return &chatSvc.DispatchResult{Turn: turn}, nil
}

// Remove permanently excludes the model from future dispatch. Stored turns
// are untouched.
func (r *Regenerator) Remove(ctx context.Context, conversationID, userID, model string) error {
	return r.registry.RemoveModel(ctx, conversationID, userID, model)
}

// regenerationAnchor finds the user turn to re-answer and the assistant turn
// being replaced. With no previous answer (the branch failed last time),
// the newest shared user turn is the anchor and nothing is superseded.
func regenerationAnchor(history []chatModels.Turn, model string) (anchor, previous *chatModels.Turn) {
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role == chatModels.RoleAssistant && turn.Model != nil && *turn.Model == model {
			previous = &history[i]
			break
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role != chatModels.RoleUser {
			continue
		}
		if previous == nil || turn.CreatedAt.Before(previous.CreatedAt) {
			anchor = &history[i]
			break
		}
	}
	return anchor, previous
}

// historyThrough returns the prefix of history up to and including the
// anchor turn.
func historyThrough(history []chatModels.Turn, anchor *chatModels.Turn) []chatModels.Turn {
	for i := range history {
		if history[i].ID == anchor.ID {
			return history[: i+1 : i+1]
		}
	}
	return history
}
