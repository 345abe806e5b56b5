package config

import "time"

const (
	// MaxConversationTitleLength is the maximum length for conversation
	// titles. Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxConversationTitleLength = 255

	// MaxMessageLength caps a single user message. Large enough for pasted
	// documents, small enough to keep fan-out requests bounded.
	MaxMessageLength = 100_000

	// MaxModelIDLength is the maximum length for model identifiers.
	MaxModelIDLength = 128

	// MaxAliasLength is the maximum length for membership display aliases.
	MaxAliasLength = 64

	// MaxModelsPerConversation bounds the fan-out width. The engine is
	// designed for a handful of parallel branches, not broadcast.
	MaxModelsPerConversation = 8

	// DefaultBranchTimeout is the per-branch completion deadline when the
	// request doesn't set one. Each branch times out independently; a slow
	// model never stalls its siblings past this.
	DefaultBranchTimeout = 120 * time.Second
)
