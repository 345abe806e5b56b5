package chat

import (
	chatModels "chorus/internal/domain/models/chat"
	"chorus/internal/domain/services/llm"
)

// HistoryIndex slices a conversation's turns by owning model so each dispatch
// branch gets its projection without rescanning the full turn list.
//
// Build once per dispatch from the active turn set, then call Project once
// per branch. The index is read-only after construction and safe to share
// across branch goroutines.
type HistoryIndex struct {
	shared []chatModels.Turn
	owned  map[string][]chatModels.Turn
}

// NewHistoryIndex groups turns by owning model, preserving creation order.
// Superseded turns are skipped; they belong to the audit log, not the live
// projection.
func NewHistoryIndex(turns []chatModels.Turn) *HistoryIndex {
	ix := &HistoryIndex{
		owned: make(map[string][]chatModels.Turn),
	}

	for _, turn := range turns {
		if turn.Status == chatModels.TurnStatusSuperseded {
			continue
		}
		if turn.Model == nil {
			ix.shared = append(ix.shared, turn)
			continue
		}
		ix.owned[*turn.Model] = append(ix.owned[*turn.Model], turn)
	}

	return ix
}

// Project returns the ordered subsequence of turns the target model should
// see: shared user/system turns plus the model's own assistant turns, merged
// by creation timestamp. If the result has no system turn and a shared
// system prompt is supplied, a synthetic (non-persisted) system turn is
// prepended.
//
// Pure with respect to the index: the same index and arguments always yield
// the same projection.
func (ix *HistoryIndex) Project(targetModel string, sharedSystemPrompt *string) []chatModels.Turn {
	owned := ix.owned[targetModel]
	merged := make([]chatModels.Turn, 0, len(ix.shared)+len(owned)+1)

	hasSystem := false
	i, j := 0, 0
	for i < len(ix.shared) || j < len(owned) {
		var next chatModels.Turn
		// Shared turns win timestamp ties: a user prompt precedes the answer
		// it produced even when the clock doesn't separate them.
		if j >= len(owned) || (i < len(ix.shared) && !ix.shared[i].CreatedAt.After(owned[j].CreatedAt)) {
			next = ix.shared[i]
			i++
		} else {
			next = owned[j]
			j++
		}
		if next.Role == chatModels.RoleSystem {
			hasSystem = true
		}
		merged = append(merged, next)
	}

	if !hasSystem && sharedSystemPrompt != nil && *sharedSystemPrompt != "" {
		synthetic := chatModels.Turn{
			Role:    chatModels.RoleSystem,
			Content: *sharedSystemPrompt,
			Status:  chatModels.TurnStatusActive,
		}
		merged = append([]chatModels.Turn{synthetic}, merged...)
	}

	return merged
}

// Project is the one-shot form: index a turn set and project it for a single
// target model.
func Project(turns []chatModels.Turn, targetModel string, sharedSystemPrompt *string) []chatModels.Turn {
	return NewHistoryIndex(turns).Project(targetModel, sharedSystemPrompt)
}

// HistoryMessages converts a projected turn sequence into the message list
// sent to a completion backend.
func HistoryMessages(turns []chatModels.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, llm.Message{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	return messages
}
