package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"chorus/internal/config"
	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	chatRepo "chorus/internal/domain/repositories/chat"
	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/domain/services/llm"
)

// ProviderResolver routes a model identifier to its completion backend.
type ProviderResolver interface {
	ProviderFor(model string) (llm.CompletionProvider, error)
}

// Dispatcher fans one user message out to multiple model branches.
//
// Branches are fully independent: each gets its own projected history, its
// own deadline, and its own row insert. The only shared state is the
// append-only turn store. A failed or stuck branch never disturbs siblings;
// the dispatch joins once every branch has settled.
type Dispatcher struct {
	conversationRepo chatRepo.ConversationRepository
	turnRepo         chatRepo.TurnRepository
	membershipRepo   chatRepo.MembershipRepository
	providers        ProviderResolver
	defaultTimeout   time.Duration
	logger           *slog.Logger
}

var _ chatSvc.DispatchService = (*Dispatcher)(nil)

// NewDispatcher creates a fan-out dispatcher
func NewDispatcher(
	conversationRepo chatRepo.ConversationRepository,
	turnRepo chatRepo.TurnRepository,
	membershipRepo chatRepo.MembershipRepository,
	providers ProviderResolver,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		conversationRepo: conversationRepo,
		turnRepo:         turnRepo,
		membershipRepo:   membershipRepo,
		providers:        providers,
		defaultTimeout:   config.DefaultBranchTimeout,
		logger:           logger,
	}
}

// Dispatch persists the user turn once, then runs one goroutine per visible
// target model and joins when all have settled. Partial success is a normal
// outcome: the result map holds a persisted turn or a branch error per model.
//
// Errors returned from Dispatch itself are conversation-level (conversation
// missing, no dispatchable models, user turn failed to persist) and occur
// before any fan-out starts.
func (d *Dispatcher) Dispatch(ctx context.Context, req *chatSvc.DispatchRequest) (*chatSvc.DispatchOutcome, error) {
	if err := validateDispatchRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	conv, err := d.conversationRepo.Get(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}

	targets, err := d.resolveTargets(ctx, conv.ID, req.TargetModels)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no visible models to dispatch to", domain.ErrValidation)
	}

	// Prior history is read before the user turn lands so the projection
	// input is the appended slice, not a second query racing the branches.
	history, err := d.turnRepo.ListActiveTurns(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	userTurn := &chatModels.Turn{
		ConversationID: conv.ID,
		Role:           chatModels.RoleUser,
		Content:        req.Message,
		Status:         chatModels.TurnStatusActive,
	}
	if err := d.turnRepo.AppendTurn(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	history = append(history, *userTurn)

	dispatchID := uuid.NewString()
	d.logger.Info("dispatch started",
		"dispatch_id", dispatchID,
		"conversation_id", conv.ID,
		"models", targets,
	)

	index := NewHistoryIndex(history)

	results := make(map[string]chatSvc.DispatchResult, len(targets))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, model := range targets {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()

			result := d.runBranch(ctx, conv, index, model, req.Options)

			resultsMu.Lock()
			results[model] = result
			resultsMu.Unlock()
		}(model)
	}
	wg.Wait()

	// Best-effort bump; dispatch already succeeded at this point.
	if err := d.conversationRepo.Touch(context.WithoutCancel(ctx), conv.ID); err != nil {
		d.logger.Warn("touch conversation failed", "conversation_id", conv.ID, "error", err)
	}

	d.logger.Info("dispatch settled",
		"dispatch_id", dispatchID,
		"conversation_id", conv.ID,
		"branches", len(results),
		"failures", countFailures(results),
	)

	return &chatSvc.DispatchOutcome{
		UserTurn: userTurn,
		Results:  results,
	}, nil
}

// resolveTargets narrows the requested models to those with a visible
// membership. Hidden and removed models are silently excluded - no branch is
// attempted for them. An empty request means every visible member.
func (d *Dispatcher) resolveTargets(ctx context.Context, conversationID string, requested []string) ([]string, error) {
	memberships, err := d.membershipRepo.List(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	visible := make(map[string]bool, len(memberships))
	var all []string
	for _, m := range memberships {
		if m.Dispatchable() {
			visible[m.Model] = true
			all = append(all, m.Model)
		}
	}

	if len(requested) == 0 {
		return all, nil
	}

	targets := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, model := range requested {
		if visible[model] && !seen[model] {
			targets = append(targets, model)
			seen[model] = true
		}
	}
	return targets, nil
}

// runBranch executes one model's branch: project history, call the backend,
// persist the answer. Every failure is converted into a branch-local error;
// nothing escapes to sibling branches.
func (d *Dispatcher) runBranch(
	ctx context.Context,
	conv *chatModels.Conversation,
	index *HistoryIndex,
	model string,
	opts chatSvc.BranchOptions,
) chatSvc.DispatchResult {
	projected := index.Project(model, conv.SystemPrompt)

	completion, branchErr := d.generate(ctx, model, projected, opts)
	if branchErr != nil {
		d.logger.Warn("branch failed",
			"conversation_id", conv.ID,
			"model", model,
			"kind", branchErr.Kind,
			"error", branchErr.Message,
		)
		return chatSvc.DispatchResult{Error: branchErr}
	}

	turn, branchErr := d.persistAssistantTurn(ctx, conv.ID, model, completion)
	if branchErr != nil {
		return chatSvc.DispatchResult{Error: branchErr}
	}

	d.logger.Debug("branch completed",
		"conversation_id", conv.ID,
		"model", model,
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens,
		"duration_ms", completion.DurationMs,
	)
	return chatSvc.DispatchResult{Turn: turn}
}

// generate is the single-branch completion path, shared by fan-out and
// regeneration. It resolves the provider, applies the branch deadline and
// classifies any failure.
func (d *Dispatcher) generate(
	ctx context.Context,
	model string,
	projected []chatModels.Turn,
	opts chatSvc.BranchOptions,
) (*llm.Completion, *chatSvc.BranchError) {
	provider, err := d.providers.ProviderFor(model)
	if err != nil {
		return nil, &chatSvc.BranchError{
			Model:   model,
			Kind:    llm.ErrKindInvalidResponse,
			Message: err.Error(),
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	branchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	completion, err := provider.Complete(branchCtx, &llm.CompletionRequest{
		Model:       model,
		Messages:    HistoryMessages(projected),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		provErr := llm.Classify(err)
		return nil, &chatSvc.BranchError{
			Model:   model,
			Kind:    provErr.Kind,
			Message: provErr.Message,
		}
	}

	return completion, nil
}

// persistAssistantTurn writes a completed branch's answer to the store.
//
// A branch past its point of no return (the provider already answered)
// persists even when the surrounding request context has been cancelled, so
// billed usage is not lost - unless the cancellation cause is the explicit
// user cancel for this dispatch, in which case nothing is written.
func (d *Dispatcher) persistAssistantTurn(
	ctx context.Context,
	conversationID, model string,
	completion *llm.Completion,
) (*chatModels.Turn, *chatSvc.BranchError) {
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), domain.ErrDispatchCancelled) {
		return nil, &chatSvc.BranchError{
			Model:   model,
			Kind:    llm.ErrKindTimeout,
			Message: "dispatch cancelled before answer was persisted",
		}
	}

	// Visibility is re-checked so a model removed mid-flight does not gain a
	// new turn after its removal was acknowledged.
	membership, err := d.membershipRepo.Get(context.WithoutCancel(ctx), conversationID, model)
	if err != nil || membership.Visibility == chatModels.VisibilityRemoved {
		return nil, &chatSvc.BranchError{
			Model:   model,
			Kind:    llm.ErrKindInvalidResponse,
			Message: "model membership removed during dispatch",
		}
	}

	turn := newAssistantTurn(conversationID, model, completion)
	if err := d.turnRepo.AppendTurn(context.WithoutCancel(ctx), turn); err != nil {
		d.logger.Error("persist assistant turn failed",
			"conversation_id", conversationID,
			"model", model,
			"error", err,
		)
		return nil, &chatSvc.BranchError{
			Model:   model,
			Kind:    llm.ErrKindUpstream,
			Message: fmt.Sprintf("persist assistant turn: %v", err),
		}
	}
	return turn, nil
}

// newAssistantTurn builds the branch-scoped turn row for a completion.
func newAssistantTurn(conversationID, model string, completion *llm.Completion) *chatModels.Turn {
	now := time.Now()
	prompt := completion.Usage.PromptTokens
	output := completion.Usage.CompletionTokens
	duration := completion.DurationMs

	return &chatModels.Turn{
		ConversationID:   conversationID,
		Role:             chatModels.RoleAssistant,
		Content:          completion.Content,
		Model:            &model,
		Status:           chatModels.TurnStatusActive,
		CompletedAt:      &now,
		PromptTokens:     &prompt,
		CompletionTokens: &output,
		DurationMs:       &duration,
	}
}

func validateDispatchRequest(req *chatSvc.DispatchRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ConversationID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Message,
			validation.Required,
			validation.Length(1, config.MaxMessageLength),
		),
	)
}

func countFailures(results map[string]chatSvc.DispatchResult) int {
	n := 0
	for _, r := range results {
		if r.Error != nil {
			n++
		}
	}
	return n
}
