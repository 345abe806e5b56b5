package chat

import (
	"context"

	chatModels "chorus/internal/domain/models/chat"
)

// CreateConversationRequest creates a conversation with an initial model
// roster.
type CreateConversationRequest struct {
	UserID       string   `json:"-"`
	Title        string   `json:"title"`
	Models       []string `json:"models"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
}

// ConversationService manages the conversation aggregate.
type ConversationService interface {
	// Create creates a conversation and its initial memberships
	Create(ctx context.Context, req *CreateConversationRequest) (*chatModels.Conversation, error)

	// Get retrieves a conversation with its memberships
	Get(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error)

	// List retrieves all of a user's conversations, most recent first
	List(ctx context.Context, userID string) ([]chatModels.Conversation, error)

	// Turns returns conversation history. With model set, the live per-model
	// projection; with includeAll, the full audit log including superseded
	// turns.
	Turns(ctx context.Context, conversationID, userID, model string, includeAll bool) ([]chatModels.Turn, error)

	// Delete soft-deletes a conversation
	Delete(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error)
}
