package chat

import (
	"context"
	"time"

	chatModels "chorus/internal/domain/models/chat"
	"chorus/internal/domain/services/llm"
)

// BranchError is a branch-local failure: one model's completion call failed
// without disturbing its siblings. Surfaced to the caller keyed by model.
type BranchError struct {
	Model   string        `json:"model"`
	Kind    llm.ErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// DispatchResult is the outcome of one branch of a fan-out: either a
// persisted assistant turn or a branch-local error, never both.
type DispatchResult struct {
	Turn  *chatModels.Turn `json:"turn,omitempty"`
	Error *BranchError     `json:"error,omitempty"`
}

// BranchOptions carries per-branch completion parameters. The zero value
// means backend defaults with the configured dispatch timeout.
type BranchOptions struct {
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"-"`
}

// DispatchRequest asks for one user message to be fanned out to a set of
// target models. An empty TargetModels means every visible member.
type DispatchRequest struct {
	ConversationID string
	UserID         string
	Message        string
	TargetModels   []string
	Options        BranchOptions
}

// DispatchOutcome is the joined result of a fan-out: the single persisted
// user turn plus exactly one result per dispatched model. Partial success is
// a first-class outcome.
type DispatchOutcome struct {
	UserTurn *chatModels.Turn          `json:"user_turn"`
	Results  map[string]DispatchResult `json:"results"`
}

// DispatchService fans one user message out to multiple model branches.
type DispatchService interface {
	// Dispatch persists the user turn once, runs one concurrent branch per
	// visible target model, and returns when every branch has settled.
	// Conversation-level failures (missing conversation, no models, user
	// turn persist failure) are returned as an error before fan-out starts.
	Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchOutcome, error)
}

// RegenerationService replaces a single model's latest answer or removes a
// model from future dispatch.
type RegenerationService interface {
	// Regenerate re-runs the single-branch dispatch path for one model from
	// its last user prompt. On success the previous assistant turn is
	// superseded; on failure it stays the active answer.
	Regenerate(ctx context.Context, conversationID, userID, model string, opts BranchOptions) (*DispatchResult, error)

	// Remove permanently excludes the model from future dispatch. Stored
	// turns are untouched.
	Remove(ctx context.Context, conversationID, userID, model string) error
}
