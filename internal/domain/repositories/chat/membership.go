package chat

import (
	"context"

	chatModels "chorus/internal/domain/models/chat"
)

// MembershipRepository defines persistence operations for model memberships
type MembershipRepository interface {
	// Create persists a new membership row and fills in its ID and timestamps.
	// A visible or hidden membership for the same (conversation, model) pair
	// is a conflict; a removed one is not, so re-adding allocates a new row.
	Create(ctx context.Context, m *chatModels.ModelMembership) error

	// Get retrieves the current (non-removed) membership for a model
	Get(ctx context.Context, conversationID, model string) (*chatModels.ModelMembership, error)

	// List returns all membership rows of a conversation, removed included,
	// oldest first
	List(ctx context.Context, conversationID string) ([]chatModels.ModelMembership, error)

	// SetVisibility updates the membership's visibility state. Transitions
	// out of "removed" must be rejected with ErrValidation.
	SetVisibility(ctx context.Context, conversationID, model, visibility string) (*chatModels.ModelMembership, error)

	// SetAlias updates the membership's display alias
	SetAlias(ctx context.Context, conversationID, model, alias string) (*chatModels.ModelMembership, error)
}
