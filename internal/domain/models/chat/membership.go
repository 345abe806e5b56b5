package chat

import (
	"time"
)

// Membership visibility states
const (
	// VisibilityVisible means the model receives new dispatches.
	VisibilityVisible = "visible"
	// VisibilityHidden means the model is skipped for new dispatches but can
	// be shown again. History is retained either way.
	VisibilityHidden = "hidden"
	// VisibilityRemoved is terminal: the membership row can never become
	// visible again. Re-adding the model creates a fresh row so historical
	// metrics stay unambiguous.
	VisibilityRemoved = "removed"
)

// ModelMembership ties a model to a conversation with a visibility state and
// a display alias.
type ModelMembership struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Model          string    `json:"model" db:"model"`
	Alias          string    `json:"alias" db:"alias"`
	Visibility     string    `json:"visibility" db:"visibility"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Dispatchable reports whether the membership currently accepts new dispatches.
func (m *ModelMembership) Dispatchable() bool {
	return m.Visibility == VisibilityVisible
}
