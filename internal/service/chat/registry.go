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
	chatRepo "chorus/internal/domain/repositories/chat"
	chatSvc "chorus/internal/domain/services/chat"
)

// RegistryService implements the ModelRegistryService interface.
//
// Memberships gate future dispatches only: hiding or removing a model never
// touches its stored turns, and the metrics aggregator keeps seeing them.
// Mutations are driven by explicit user actions; dispatch branches only read.
type RegistryService struct {
	conversationRepo chatRepo.ConversationRepository
	membershipRepo   chatRepo.MembershipRepository
	logger           *slog.Logger
}

var _ chatSvc.ModelRegistryService = (*RegistryService)(nil)

// NewRegistryService creates a model selection registry service
func NewRegistryService(
	conversationRepo chatRepo.ConversationRepository,
	membershipRepo chatRepo.MembershipRepository,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		conversationRepo: conversationRepo,
		membershipRepo:   membershipRepo,
		logger:           logger,
	}
}

// AddModel registers a model with the conversation. A previously removed
// model gets a fresh membership row so its historical metrics stay tied to
// the old one.
func (s *RegistryService) AddModel(ctx context.Context, req *chatSvc.AddModelRequest) (*chatModels.ModelMembership, error) {
	if err := validateAddModelRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if _, err := s.conversationRepo.Get(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, err
	}

	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		alias = req.Model
	}

	membership := &chatModels.ModelMembership{
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Alias:          alias,
		Visibility:     chatModels.VisibilityVisible,
	}
	if err := s.membershipRepo.Create(ctx, membership); err != nil {
		return nil, err
	}

	s.logger.Info("model added",
		"conversation_id", req.ConversationID,
		"model", req.Model,
		"alias", alias,
	)
	return membership, nil
}

// HideModel stops future dispatches to the model. Calling it on an already
// hidden model is a no-op, not an error.
func (s *RegistryService) HideModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error) {
	return s.setVisibility(ctx, conversationID, userID, model, chatModels.VisibilityHidden)
}

// ShowModel re-enables dispatches to a hidden model. Idempotent.
func (s *RegistryService) ShowModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error) {
	return s.setVisibility(ctx, conversationID, userID, model, chatModels.VisibilityVisible)
}

// RemoveModel permanently excludes the model from future dispatch. The
// membership can never transition out of removed; re-adding the model
// creates a new membership row.
func (s *RegistryService) RemoveModel(ctx context.Context, conversationID, userID, model string) error {
	if _, err := s.setVisibility(ctx, conversationID, userID, model, chatModels.VisibilityRemoved); err != nil {
		return err
	}
	s.logger.Info("model removed",
		"conversation_id", conversationID,
		"model", model,
	)
	return nil
}

// Rename sets the model's display alias
func (s *RegistryService) Rename(ctx context.Context, conversationID, userID, model, alias string) (*chatModels.ModelMembership, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" || len(alias) > config.MaxAliasLength {
		return nil, fmt.Errorf("%w: alias must be 1-%d characters", domain.ErrValidation, config.MaxAliasLength)
	}

	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	membership, err := s.membershipRepo.SetAlias(ctx, conversationID, model, alias)
	if err != nil {
		return nil, err
	}

	s.logger.Info("model renamed",
		"conversation_id", conversationID,
		"model", model,
		"alias", alias,
	)
	return membership, nil
}

// GetModel returns the live membership for a model. A removed membership is
// indistinguishable from a missing one; both return ErrNotFound.
func (s *RegistryService) GetModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error) {
	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.membershipRepo.Get(ctx, conversationID, model)
}

// ListVisible returns the memberships that currently receive dispatches
func (s *RegistryService) ListVisible(ctx context.Context, conversationID, userID string) ([]chatModels.ModelMembership, error) {
	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	memberships, err := s.membershipRepo.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	visible := make([]chatModels.ModelMembership, 0, len(memberships))
	for _, m := range memberships {
		if m.Dispatchable() {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

func (s *RegistryService) setVisibility(ctx context.Context, conversationID, userID, model, visibility string) (*chatModels.ModelMembership, error) {
	if _, err := s.conversationRepo.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	membership, err := s.membershipRepo.SetVisibility(ctx, conversationID, model, visibility)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("membership visibility set",
		"conversation_id", conversationID,
		"model", model,
		"visibility", visibility,
	)
	return membership, nil
}

func validateAddModelRequest(req *chatSvc.AddModelRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ConversationID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Model,
			validation.Required,
			validation.Length(1, config.MaxModelIDLength),
		),
		validation.Field(&req.Alias, validation.Length(0, config.MaxAliasLength)),
	)
}
