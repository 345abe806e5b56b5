package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	"chorus/internal/domain/repositories"
	"chorus/internal/domain/services/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock hands out strictly increasing timestamps so creation order is
// unambiguous even when appends land within the same wall-clock tick.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeConversationRepo struct {
	mu      sync.Mutex
	clock   *fakeClock
	nextID  int
	convs   map[string]*chatModels.Conversation
	touched int
}

func newFakeConversationRepo(clock *fakeClock) *fakeConversationRepo {
	return &fakeConversationRepo{
		clock: clock,
		convs: make(map[string]*chatModels.Conversation),
	}
}

func (r *fakeConversationRepo) Create(ctx context.Context, conv *chatModels.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv.ID = fmt.Sprintf("conv-%d", r.nextID)
	conv.CreatedAt = r.clock.next()
	conv.UpdatedAt = conv.CreatedAt
	stored := *conv
	r.convs[conv.ID] = &stored
	return nil
}

func (r *fakeConversationRepo) Get(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.UserID != userID || conv.DeletedAt != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeConversationRepo) ListByUser(ctx context.Context, userID string) ([]chatModels.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	convs := []chatModels.Conversation{}
	for _, conv := range r.convs {
		if conv.UserID == userID && conv.DeletedAt == nil {
			convs = append(convs, *conv)
		}
	}
	return convs, nil
}

func (r *fakeConversationRepo) Touch(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.DeletedAt != nil {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	conv.UpdatedAt = r.clock.next()
	r.touched++
	return nil
}

func (r *fakeConversationRepo) Delete(ctx context.Context, conversationID, userID string) (*chatModels.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.UserID != userID || conv.DeletedAt != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	now := r.clock.next()
	conv.DeletedAt = &now
	copied := *conv
	return &copied, nil
}

type fakeTurnRepo struct {
	mu     sync.Mutex
	clock  *fakeClock
	nextID int
	turns  []chatModels.Turn
}

func newFakeTurnRepo(clock *fakeClock) *fakeTurnRepo {
	return &fakeTurnRepo{clock: clock}
}

func (r *fakeTurnRepo) AppendTurn(ctx context.Context, turn *chatModels.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	turn.ID = fmt.Sprintf("turn-%d", r.nextID)
	turn.CreatedAt = r.clock.next()
	r.turns = append(r.turns, *turn)
	return nil
}

func (r *fakeTurnRepo) ListTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := []chatModels.Turn{}
	for _, turn := range r.turns {
		if turn.ConversationID == conversationID {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

func (r *fakeTurnRepo) ListActiveTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := []chatModels.Turn{}
	for _, turn := range r.turns {
		if turn.ConversationID == conversationID && turn.Status == chatModels.TurnStatusActive {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

func (r *fakeTurnRepo) SupersedeTurn(ctx context.Context, turnID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.turns {
		if r.turns[i].ID == turnID && r.turns[i].Status == chatModels.TurnStatusActive {
			r.turns[i].Status = chatModels.TurnStatusSuperseded
			return nil
		}
	}
	return fmt.Errorf("active turn %s: %w", turnID, domain.ErrNotFound)
}

type fakeMembershipRepo struct {
	mu          sync.Mutex
	clock       *fakeClock
	nextID      int
	memberships []chatModels.ModelMembership
}

func newFakeMembershipRepo(clock *fakeClock) *fakeMembershipRepo {
	return &fakeMembershipRepo{clock: clock}
}

func (r *fakeMembershipRepo) Create(ctx context.Context, m *chatModels.ModelMembership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.memberships {
		if existing.ConversationID == m.ConversationID &&
			existing.Model == m.Model &&
			existing.Visibility != chatModels.VisibilityRemoved {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("model '%s' is already a member of the conversation", m.Model),
				ResourceType: "membership",
				ResourceID:   m.Model,
			}
		}
	}
	r.nextID++
	m.ID = fmt.Sprintf("member-%d", r.nextID)
	m.CreatedAt = r.clock.next()
	m.UpdatedAt = m.CreatedAt
	r.memberships = append(r.memberships, *m)
	return nil
}

func (r *fakeMembershipRepo) Get(ctx context.Context, conversationID, model string) (*chatModels.ModelMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.memberships {
		if m.ConversationID == conversationID && m.Model == model && m.Visibility != chatModels.VisibilityRemoved {
			copied := m
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
}

func (r *fakeMembershipRepo) List(ctx context.Context, conversationID string) ([]chatModels.ModelMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	memberships := []chatModels.ModelMembership{}
	for _, m := range r.memberships {
		if m.ConversationID == conversationID {
			memberships = append(memberships, m)
		}
	}
	return memberships, nil
}

func (r *fakeMembershipRepo) SetVisibility(ctx context.Context, conversationID, model, visibility string) (*chatModels.ModelMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	for i := range r.memberships {
		m := &r.memberships[i]
		if m.ConversationID != conversationID || m.Model != model {
			continue
		}
		if m.Visibility == chatModels.VisibilityRemoved {
			removed = true
			continue
		}
		m.Visibility = visibility
		m.UpdatedAt = r.clock.next()
		copied := *m
		return &copied, nil
	}
	if removed {
		return nil, fmt.Errorf("%w: model %s was removed and cannot change visibility", domain.ErrValidation, model)
	}
	return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
}

func (r *fakeMembershipRepo) SetAlias(ctx context.Context, conversationID, model, alias string) (*chatModels.ModelMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.memberships {
		m := &r.memberships[i]
		if m.ConversationID == conversationID && m.Model == model && m.Visibility != chatModels.VisibilityRemoved {
			m.Alias = alias
			m.UpdatedAt = r.clock.next()
			copied := *m
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
}

// fakeTxManager runs the function directly; atomicity is the real
// implementation's concern.
type fakeTxManager struct{}

func (fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

// completeFn lets each test script one model's backend behavior.
type completeFn func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error)

type fakeProvider struct {
	model    string
	complete completeFn
}

func (p *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	return p.complete(ctx, req)
}

func (p *fakeProvider) Name() string                  { return "fake" }
func (p *fakeProvider) SupportsModel(model string) bool { return model == p.model }

// fakeResolver routes each model to its scripted provider.
type fakeResolver struct {
	mu        sync.Mutex
	providers map[string]*fakeProvider
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{providers: make(map[string]*fakeProvider)}
}

func (r *fakeResolver) script(model string, fn completeFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[model] = &fakeProvider{model: model, complete: fn}
}

// answer scripts a provider that succeeds with fixed content and usage.
func (r *fakeResolver) answer(model, content string, prompt, completion, durationMs int) {
	r.script(model, func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		return &llm.Completion{
			Content: content,
			Model:   model,
			Usage: llm.Usage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
			DurationMs: durationMs,
		}, nil
	})
}

// fail scripts a provider that always returns a classified error.
func (r *fakeResolver) fail(model string, kind llm.ErrorKind, message string) {
	r.script(model, func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
		return nil, &llm.ProviderError{Kind: kind, Message: message}
	})
}

func (r *fakeResolver) ProviderFor(model string) (llm.CompletionProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider, ok := r.providers[model]
	if !ok {
		return nil, fmt.Errorf("no provider for model %s", model)
	}
	return provider, nil
}

// staticPrices is a fixed-rate price table keyed by model. Rates are USD per
// token, matching the PriceTable contract.
type staticPrices map[string][2]float64

func (p staticPrices) Rates(model string) (input, output float64, ok bool) {
	rates, ok := p[model]
	if !ok {
		return 0, 0, false
	}
	return rates[0], rates[1], true
}

// testEnv wires the full service graph over in-memory fakes.
type testEnv struct {
	clock           *fakeClock
	conversations   *fakeConversationRepo
	turns           *fakeTurnRepo
	memberships     *fakeMembershipRepo
	resolver        *fakeResolver
	dispatcher      *Dispatcher
	registry        *RegistryService
	regenerator     *Regenerator
	conversationSvc *ConversationService
}

func newTestEnv() *testEnv {
	clock := newFakeClock()
	logger := testLogger()
	conversations := newFakeConversationRepo(clock)
	turns := newFakeTurnRepo(clock)
	memberships := newFakeMembershipRepo(clock)
	resolver := newFakeResolver()

	dispatcher := NewDispatcher(conversations, turns, memberships, resolver, logger)
	registry := NewRegistryService(conversations, memberships, logger)
	regenerator := NewRegenerator(conversations, turns, memberships, dispatcher, registry, fakeTxManager{}, logger)
	conversationSvc := NewConversationService(conversations, turns, memberships, fakeTxManager{}, logger)

	return &testEnv{
		clock:           clock,
		conversations:   conversations,
		turns:           turns,
		memberships:     memberships,
		resolver:        resolver,
		dispatcher:      dispatcher,
		registry:        registry,
		regenerator:     regenerator,
		conversationSvc: conversationSvc,
	}
}

// seedConversation creates a conversation with the given visible models.
func (e *testEnv) seedConversation(t interface{ Fatalf(string, ...interface{}) }, userID string, systemPrompt *string, models ...string) *chatModels.Conversation {
	conv := &chatModels.Conversation{
		UserID:       userID,
		Title:        "test conversation",
		SystemPrompt: systemPrompt,
	}
	if err := e.conversations.Create(context.Background(), conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	for _, model := range models {
		m := &chatModels.ModelMembership{
			ConversationID: conv.ID,
			Model:          model,
			Alias:          model,
			Visibility:     chatModels.VisibilityVisible,
		}
		if err := e.memberships.Create(context.Background(), m); err != nil {
			t.Fatalf("seed membership %s: %v", model, err)
		}
	}
	return conv
}
