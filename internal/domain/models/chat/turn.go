package chat

import (
	"time"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn statuses
const (
	// TurnStatusActive marks the turn that the live projection sees.
	TurnStatusActive = "active"
	// TurnStatusSuperseded marks an assistant turn replaced by a successful
	// regeneration. Kept for audit and metrics, excluded from projection.
	TurnStatusSuperseded = "superseded"
)

// Turn is one persisted message in a conversation.
//
// Model is nil for shared turns (user/system, visible to every branch) and
// set for assistant turns, which belong to exactly one model's branch.
type Turn struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Role           string     `json:"role" db:"role"`
	Content        string     `json:"content" db:"content"`
	Model          *string    `json:"model,omitempty" db:"model"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Usage metrics, present on assistant turns only.
	PromptTokens     *int `json:"prompt_tokens,omitempty" db:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens,omitempty" db:"completion_tokens"`
	DurationMs       *int `json:"duration_ms,omitempty" db:"duration_ms"`
}

// TotalTokens returns prompt + completion tokens, treating missing metrics as zero.
func (t *Turn) TotalTokens() int {
	total := 0
	if t.PromptTokens != nil {
		total += *t.PromptTokens
	}
	if t.CompletionTokens != nil {
		total += *t.CompletionTokens
	}
	return total
}

// OwnedBy reports whether the turn belongs to the given model's branch.
// Shared turns (nil model) belong to every branch.
func (t *Turn) OwnedBy(model string) bool {
	return t.Model == nil || *t.Model == model
}
