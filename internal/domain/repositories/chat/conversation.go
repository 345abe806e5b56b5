package chat

import (
	"context"

	chatModels "chorus/internal/domain/models/chat"
)

// ConversationRepository defines persistence operations for conversations
type ConversationRepository interface {
	// Create persists a new conversation and fills in its ID and timestamps
	Create(ctx context.Context, conv *chatModels.Conversation) error

	// Get retrieves a conversation owned by the given user
	Get(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error)

	// ListByUser retrieves all conversations for a user, most recent first
	ListByUser(ctx context.Context, userID string) ([]chatModels.Conversation, error)

	// Touch bumps the conversation's updated_at timestamp
	Touch(ctx context.Context, conversationID string) error

	// Delete soft-deletes a conversation and returns the deleted record
	Delete(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error)
}
