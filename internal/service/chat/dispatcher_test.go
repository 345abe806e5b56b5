package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/domain/services/llm"
)

func TestDispatchFanOut(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a", "model-b", "model-c")
	env.resolver.answer("model-a", "answer a", 10, 20, 100)
	env.resolver.answer("model-b", "answer b", 10, 30, 200)
	env.resolver.answer("model-c", "answer c", 10, 40, 300)

	outcome, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello everyone",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if outcome.UserTurn == nil || outcome.UserTurn.Role != chatModels.RoleUser {
		t.Fatalf("expected persisted user turn, got %+v", outcome.UserTurn)
	}
	if len(outcome.Results) != 3 {
		t.Fatalf("expected 3 branch results, got %d", len(outcome.Results))
	}
	for _, model := range []string{"model-a", "model-b", "model-c"} {
		result, ok := outcome.Results[model]
		if !ok {
			t.Fatalf("missing result for %s", model)
		}
		if result.Error != nil {
			t.Errorf("%s: unexpected branch error %+v", model, result.Error)
			continue
		}
		if result.Turn.Role != chatModels.RoleAssistant || *result.Turn.Model != model {
			t.Errorf("%s: wrong turn ownership %+v", model, result.Turn)
		}
	}

	// One user turn plus one assistant turn per branch.
	turns, _ := env.turns.ListTurns(context.Background(), conv.ID)
	if len(turns) != 4 {
		t.Errorf("expected 4 persisted turns, got %d", len(turns))
	}

	// A settled dispatch bumps the conversation timestamp.
	if env.conversations.touched != 1 {
		t.Errorf("expected 1 touch, got %d", env.conversations.touched)
	}
}

func TestDispatchPartialFailureIsolation(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a", "model-b")
	env.resolver.answer("model-a", "still fine", 5, 5, 50)
	env.resolver.fail("model-b", llm.ErrKindRateLimited, "429 from upstream")

	outcome, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the dispatch: %v", err)
	}

	if outcome.Results["model-a"].Turn == nil {
		t.Error("healthy branch should have persisted a turn")
	}
	failed := outcome.Results["model-b"]
	if failed.Error == nil {
		t.Fatal("failed branch should carry a branch error")
	}
	if failed.Error.Kind != llm.ErrKindRateLimited {
		t.Errorf("error kind = %s, want %s", failed.Error.Kind, llm.ErrKindRateLimited)
	}
	if failed.Turn != nil {
		t.Error("failed branch must not persist a turn")
	}

	// User turn + the single successful assistant turn.
	turns, _ := env.turns.ListTurns(context.Background(), conv.ID)
	if len(turns) != 2 {
		t.Errorf("expected 2 persisted turns, got %d", len(turns))
	}
}

func TestDispatchBranchTimeout(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-slow", "model-fast")
	env.resolver.answer("model-fast", "quick", 1, 1, 10)
	env.resolver.script("model-slow", func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &llm.Completion{Content: "too late"}, nil
		}
	})

	outcome, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
		Options:        chatSvc.BranchOptions{Timeout: 20 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	slow := outcome.Results["model-slow"]
	if slow.Error == nil || slow.Error.Kind != llm.ErrKindTimeout {
		t.Errorf("slow branch should time out, got %+v", slow)
	}
	if outcome.Results["model-fast"].Turn == nil {
		t.Error("fast branch should settle despite the slow sibling")
	}
}

func TestDispatchTargetResolution(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")
	env.resolver.answer("model-a", "answer", 1, 1, 10)

	hidden := &chatModels.ModelMembership{
		ConversationID: conv.ID, Model: "model-hidden", Alias: "model-hidden",
		Visibility: chatModels.VisibilityHidden,
	}
	removed := &chatModels.ModelMembership{
		ConversationID: conv.ID, Model: "model-removed", Alias: "model-removed",
		Visibility: chatModels.VisibilityRemoved,
	}
	_ = env.memberships.Create(context.Background(), hidden)
	_ = env.memberships.Create(context.Background(), removed)

	// Explicitly requesting hidden, removed and unknown models silently
	// narrows the fan-out to the visible one.
	outcome, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
		TargetModels:   []string{"model-a", "model-hidden", "model-removed", "model-unknown"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("expected 1 branch, got %d", len(outcome.Results))
	}
	if _, ok := outcome.Results["model-a"]; !ok {
		t.Error("visible model should have been dispatched")
	}
}

func TestDispatchNoVisibleModels(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")
	if _, err := env.memberships.SetVisibility(context.Background(), conv.ID, "model-a", chatModels.VisibilityHidden); err != nil {
		t.Fatalf("hide model: %v", err)
	}

	_, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")

	tests := []struct {
		name string
		req  *chatSvc.DispatchRequest
	}{
		{
			name: "empty message",
			req:  &chatSvc.DispatchRequest{ConversationID: conv.ID, UserID: "user-1"},
		},
		{
			name: "missing conversation id",
			req:  &chatSvc.DispatchRequest{UserID: "user-1", Message: "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.dispatcher.Dispatch(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDispatchWrongUser(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")

	_, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "someone-else",
		Message:        "hello",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatchCancelSkipsPersistence(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")

	// The provider answers only after the dispatch has been cancelled,
	// simulating a completion that lands past the user's cancel.
	env.resolver.script("model-a", func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		<-ctx.Done()
		return &llm.Completion{Content: "late answer", Model: "model-a"}, nil
	})

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(domain.ErrDispatchCancelled)
	}()

	outcome, err := env.dispatcher.Dispatch(ctx, &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	result := outcome.Results["model-a"]
	if result.Error == nil {
		t.Fatal("cancelled branch must not report a persisted turn")
	}

	// The user turn stays; the late answer does not land.
	turns, _ := env.turns.ListTurns(context.Background(), conv.ID)
	if len(turns) != 1 || turns[0].Role != chatModels.RoleUser {
		t.Errorf("expected only the user turn to persist, got %d turns", len(turns))
	}
}

func TestDispatchDisconnectPersistsCompletedAnswer(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")

	// The answer lands as a plain cancellation (a dropped connection)
	// arrives. Without the explicit cancel cause the turn must persist.
	env.resolver.script("model-a", func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		<-ctx.Done()
		return &llm.Completion{
			Content: "late answer",
			Model:   "model-a",
			Usage:   llm.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := env.dispatcher.Dispatch(ctx, &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	result := outcome.Results["model-a"]
	if result.Error != nil {
		t.Fatalf("completed branch reported an error: %+v", result.Error)
	}
	if result.Turn == nil || result.Turn.Content != "late answer" {
		t.Fatalf("expected the late answer as a persisted turn, got %+v", result.Turn)
	}

	turns, _ := env.turns.ListTurns(context.Background(), conv.ID)
	if len(turns) != 2 {
		t.Errorf("expected user turn and assistant turn to persist, got %d turns", len(turns))
	}
}

func TestDispatchRemovedMidFlight(t *testing.T) {
	env := newTestEnv()
	conv := env.seedConversation(t, "user-1", nil, "model-a")

	// Removal lands while the provider call is in flight; the answer must
	// not be persisted afterwards.
	env.resolver.script("model-a", func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		if _, err := env.memberships.SetVisibility(context.Background(), conv.ID, "model-a", chatModels.VisibilityRemoved); err != nil {
			return nil, err
		}
		return &llm.Completion{Content: "answer", Model: "model-a"}, nil
	})

	outcome, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "hello",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Results["model-a"].Error == nil {
		t.Error("branch for a removed model must fail instead of persisting")
	}

	turns, _ := env.turns.ListTurns(context.Background(), conv.ID)
	if len(turns) != 1 {
		t.Errorf("expected only the user turn, got %d turns", len(turns))
	}
}

func TestDispatchProjectionPerBranch(t *testing.T) {
	env := newTestEnv()
	prompt := "shared rules"
	conv := env.seedConversation(t, "user-1", &prompt, "model-a", "model-b")
	env.resolver.answer("model-a", "first a", 1, 1, 10)
	env.resolver.answer("model-b", "first b", 1, 1, 10)

	if _, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "round one",
	}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	// Capture what each branch is prompted with on the second round.
	var mu sync.Mutex
	seen := make(map[string][]llm.Message)
	capture := func(model string) completeFn {
		return func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
			mu.Lock()
			seen[model] = req.Messages
			mu.Unlock()
			return &llm.Completion{Content: "second " + model, Model: model}, nil
		}
	}
	env.resolver.script("model-a", capture("model-a"))
	env.resolver.script("model-b", capture("model-b"))

	if _, err := env.dispatcher.Dispatch(context.Background(), &chatSvc.DispatchRequest{
		ConversationID: conv.ID,
		UserID:         "user-1",
		Message:        "round two",
	}); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	for _, model := range []string{"model-a", "model-b"} {
		messages := seen[model]
		// system + user + own answer + user
		if len(messages) != 4 {
			t.Fatalf("%s: expected 4 projected messages, got %d", model, len(messages))
		}
		if messages[0].Role != chatModels.RoleSystem || messages[0].Content != prompt {
			t.Errorf("%s: expected shared system prompt first, got %+v", model, messages[0])
		}
		want := "first " + strings.TrimPrefix(model, "model-")
		if messages[2].Content != want {
			t.Errorf("%s: expected own prior answer %q, got %q", model, want, messages[2].Content)
		}
	}
}
