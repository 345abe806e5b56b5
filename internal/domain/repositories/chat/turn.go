package chat

import (
	"context"

	chatModels "chorus/internal/domain/models/chat"
)

// TurnRepository is the append-only message store for conversation turns.
//
// Appends from sibling dispatch branches run concurrently; each turn is its
// own row and implementations must never update one branch's row from
// another. The only mutation after append is SupersedeTurn, driven by
// regeneration.
type TurnRepository interface {
	// AppendTurn inserts a turn and fills in its ID and creation timestamp
	AppendTurn(ctx context.Context, turn *chatModels.Turn) error

	// ListTurns returns every turn of the conversation in creation order,
	// superseded turns included (audit view).
	ListTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error)

	// ListActiveTurns returns the conversation's turns in creation order,
	// excluding superseded ones. This is the input to the live projection.
	ListActiveTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error)

	// SupersedeTurn flips an active turn to superseded status
	SupersedeTurn(ctx context.Context, turnID string) error
}
