package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"chorus/internal/config"
	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	"chorus/internal/domain/repositories"
	chatRepo "chorus/internal/domain/repositories/chat"
	chatSvc "chorus/internal/domain/services/chat"
)

// ConversationService implements conversation aggregate management.
type ConversationService struct {
	conversationRepo chatRepo.ConversationRepository
	turnRepo         chatRepo.TurnRepository
	membershipRepo   chatRepo.MembershipRepository
	txManager        repositories.TransactionManager
	logger           *slog.Logger
}

var _ chatSvc.ConversationService = (*ConversationService)(nil)

// NewConversationService creates a conversation service
func NewConversationService(
	conversationRepo chatRepo.ConversationRepository,
	turnRepo chatRepo.TurnRepository,
	membershipRepo chatRepo.MembershipRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		turnRepo:         turnRepo,
		membershipRepo:   membershipRepo,
		txManager:        txManager,
		logger:           logger,
	}
}

// Create creates a conversation and its initial memberships atomically.
func (s *ConversationService) Create(ctx context.Context, req *chatSvc.CreateConversationRequest) (*chatModels.Conversation, error) {
	if err := validateCreateConversationRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	conv := &chatModels.Conversation{
		UserID:       req.UserID,
		Title:        strings.TrimSpace(req.Title),
		SystemPrompt: req.SystemPrompt,
	}

	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := s.conversationRepo.Create(txCtx, conv); err != nil {
			return err
		}
		for _, model := range req.Models {
			membership := &chatModels.ModelMembership{
				ConversationID: conv.ID,
				Model:          model,
				Alias:          model,
				Visibility:     chatModels.VisibilityVisible,
			}
			if err := s.membershipRepo.Create(txCtx, membership); err != nil {
				return err
			}
			conv.Memberships = append(conv.Memberships, *membership)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created",
		"id", conv.ID,
		"user_id", req.UserID,
		"models", req.Models,
	)
	return conv, nil
}

// Get retrieves a conversation with its memberships
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error) {
	conv, err := s.conversationRepo.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	memberships, err := s.membershipRepo.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Memberships = memberships

	return conv, nil
}

// List retrieves all of a user's conversations, most recent first
func (s *ConversationService) List(ctx context.Context, userID string) ([]chatModels.Conversation, error) {
	return s.conversationRepo.ListByUser(ctx, userID)
}

// Turns returns conversation history. With a model, the live projection that
// model would be prompted with (minus the synthetic system turn); with
// includeAll, the audit log including superseded turns.
func (s *ConversationService) Turns(ctx context.Context, conversationID, userID, model string, includeAll bool) ([]chatModels.Turn, error) {
	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	if includeAll {
		return s.turnRepo.ListTurns(ctx, conversationID)
	}

	turns, err := s.turnRepo.ListActiveTurns(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		return turns, nil
	}
	return Project(turns, model, nil), nil
}

// Delete soft-deletes a conversation
func (s *ConversationService) Delete(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error) {
	conv, err := s.conversationRepo.Delete(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation deleted",
		"id", conversationID,
		"user_id", userID,
	)
	return conv, nil
}

func validateCreateConversationRequest(req *chatSvc.CreateConversationRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Title,
			validation.Required,
			validation.Length(1, config.MaxConversationTitleLength),
		),
		validation.Field(&req.Models,
			validation.Required,
			validation.Length(1, config.MaxModelsPerConversation),
		),
	)
}
