package chat

import (
	"context"

	chatModels "chorus/internal/domain/models/chat"
)

// AddModelRequest adds a model to a conversation's roster.
type AddModelRequest struct {
	ConversationID string `json:"-"`
	UserID         string `json:"-"`
	Model          string `json:"model"`
	Alias          string `json:"alias,omitempty"`
}

// ModelRegistryService tracks which models take part in a conversation,
// their visibility and display aliases.
type ModelRegistryService interface {
	// AddModel registers a model with the conversation. If the model was
	// previously removed, a fresh membership row is created.
	AddModel(ctx context.Context, req *AddModelRequest) (*chatModels.ModelMembership, error)

	// HideModel stops future dispatches to the model. Idempotent.
	HideModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error)

	// ShowModel re-enables dispatches to a hidden model. Idempotent.
	ShowModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error)

	// RemoveModel permanently excludes the model. Terminal: the membership
	// can never be made visible again.
	RemoveModel(ctx context.Context, conversationID, userID, model string) error

	// Rename sets the model's display alias
	Rename(ctx context.Context, conversationID, userID, model, alias string) (*chatModels.ModelMembership, error)

	// GetModel returns the live membership for a model. Removed memberships
	// are not reachable here; callers get ErrNotFound.
	GetModel(ctx context.Context, conversationID, userID, model string) (*chatModels.ModelMembership, error)

	// ListVisible returns the memberships that currently receive dispatches
	ListVisible(ctx context.Context, conversationID, userID string) ([]chatModels.ModelMembership, error)
}
