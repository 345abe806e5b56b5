package chat

import (
	"time"
)

// Conversation is a multi-model chat session. Each member model keeps its own
// answer branch; user and system turns are shared across all branches.
type Conversation struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Title        string     `json:"title" db:"title"`
	SystemPrompt *string    `json:"system_prompt,omitempty" db:"system_prompt"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`

	// Computed field (not stored in DB)
	Memberships []ModelMembership `json:"memberships,omitempty"`
}
