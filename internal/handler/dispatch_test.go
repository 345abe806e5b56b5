package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	chatSvc "chorus/internal/domain/services/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDispatchService scripts the service call so tests can observe the
// context the handler hands down.
type fakeDispatchService struct {
	dispatch func(ctx context.Context, req *chatSvc.DispatchRequest) (*chatSvc.DispatchOutcome, error)
}

func (s *fakeDispatchService) Dispatch(ctx context.Context, req *chatSvc.DispatchRequest) (*chatSvc.DispatchOutcome, error) {
	return s.dispatch(ctx, req)
}

type fakeRegenerationService struct{}

func (fakeRegenerationService) Regenerate(ctx context.Context, conversationID, userID, model string, opts chatSvc.BranchOptions) (*chatSvc.DispatchResult, error) {
	return &chatSvc.DispatchResult{}, nil
}

func (fakeRegenerationService) Remove(ctx context.Context, conversationID, userID, model string) error {
	return nil
}

func postDispatch(h *DispatchHandler, ctx context.Context, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/dispatch", strings.NewReader(body))
	req = req.WithContext(ctx)
	req.SetPathValue("id", "conv-1")
	w := httptest.NewRecorder()
	h.Dispatch(w, req)
	return w
}

func TestDispatchDisconnectIsOrdinaryCancellation(t *testing.T) {
	clientCtx, disconnect := context.WithCancel(context.Background())

	var cause error
	svc := &fakeDispatchService{dispatch: func(ctx context.Context, req *chatSvc.DispatchRequest) (*chatSvc.DispatchOutcome, error) {
		disconnect()
		<-ctx.Done()
		cause = context.Cause(ctx)
		return &chatSvc.DispatchOutcome{UserTurn: &chatModels.Turn{ID: "turn-1"}}, nil
	}}
	h := NewDispatchHandler(svc, fakeRegenerationService{}, testLogger())

	w := postDispatch(h, clientCtx, `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// A dropped connection must not masquerade as an explicit cancel, or
	// completed branches would throw their answers away.
	if errors.Is(cause, domain.ErrDispatchCancelled) {
		t.Error("plain disconnect carried the explicit cancel cause")
	}
	if !errors.Is(cause, context.Canceled) {
		t.Errorf("expected ordinary cancellation, got cause %v", cause)
	}
}

func TestDispatchCancelOnDisconnectOptIn(t *testing.T) {
	clientCtx, disconnect := context.WithCancel(context.Background())

	var cause error
	svc := &fakeDispatchService{dispatch: func(ctx context.Context, req *chatSvc.DispatchRequest) (*chatSvc.DispatchOutcome, error) {
		disconnect()
		<-ctx.Done()
		cause = context.Cause(ctx)
		return &chatSvc.DispatchOutcome{UserTurn: &chatModels.Turn{ID: "turn-1"}}, nil
	}}
	h := NewDispatchHandler(svc, fakeRegenerationService{}, testLogger())

	postDispatch(h, clientCtx, `{"message":"hello","cancel_on_disconnect":true}`)
	if !errors.Is(cause, domain.ErrDispatchCancelled) {
		t.Errorf("opted-in disconnect should carry the explicit cancel cause, got %v", cause)
	}
}
