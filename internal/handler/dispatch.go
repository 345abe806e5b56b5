package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chorus/internal/domain"
	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/httputil"
)

// DispatchHandler handles fan-out and regeneration HTTP requests
type DispatchHandler struct {
	dispatchService     chatSvc.DispatchService
	regenerationService chatSvc.RegenerationService
	logger              *slog.Logger
}

// NewDispatchHandler creates a new dispatch handler
func NewDispatchHandler(
	dispatchService chatSvc.DispatchService,
	regenerationService chatSvc.RegenerationService,
	logger *slog.Logger,
) *DispatchHandler {
	return &DispatchHandler{
		dispatchService:     dispatchService,
		regenerationService: regenerationService,
		logger:              logger,
	}
}

type dispatchBody struct {
	Message      string   `json:"message"`
	TargetModels []string `json:"target_models,omitempty"`
	// CancelOnDisconnect treats a dropped connection as an explicit cancel:
	// in-flight branches abandon their answers instead of persisting them.
	CancelOnDisconnect bool `json:"cancel_on_disconnect,omitempty"`
	Options            *struct {
		Temperature *float64 `json:"temperature,omitempty"`
		MaxTokens   *int     `json:"max_tokens,omitempty"`
		TimeoutMs   *int     `json:"timeout_ms,omitempty"`
	} `json:"options,omitempty"`
}

func (b *dispatchBody) branchOptions() chatSvc.BranchOptions {
	var opts chatSvc.BranchOptions
	if b.Options == nil {
		return opts
	}
	opts.Temperature = b.Options.Temperature
	opts.MaxTokens = b.Options.MaxTokens
	if b.Options.TimeoutMs != nil && *b.Options.TimeoutMs > 0 {
		opts.Timeout = time.Duration(*b.Options.TimeoutMs) * time.Millisecond
	}
	return opts
}

// Dispatch fans one user message out to the conversation's models
// POST /api/conversations/{id}/dispatch
// Returns 200 with per-model results; partial failure is still a 200.
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	var body dispatchBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A plain disconnect propagates as ordinary cancellation: branches whose
	// provider already answered still persist their turns. Only when the
	// client opted in does a disconnect carry the explicit cancel cause,
	// which tells branches to drop completed answers instead.
	ctx := r.Context()
	if body.CancelOnDisconnect {
		detached, cancel := context.WithCancelCause(context.WithoutCancel(r.Context()))
		defer cancel(nil)
		stop := context.AfterFunc(r.Context(), func() {
			cancel(domain.ErrDispatchCancelled)
		})
		defer stop()
		ctx = detached
	}

	outcome, err := h.dispatchService.Dispatch(ctx, &chatSvc.DispatchRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Message:        body.Message,
		TargetModels:   body.TargetModels,
		Options:        body.branchOptions(),
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, outcome)
}

type regenerateBody struct {
	Model   string `json:"model"`
	Options *struct {
		Temperature *float64 `json:"temperature,omitempty"`
		MaxTokens   *int     `json:"max_tokens,omitempty"`
		TimeoutMs   *int     `json:"timeout_ms,omitempty"`
	} `json:"options,omitempty"`
}

// Regenerate re-runs one model's latest answer
// POST /api/conversations/{id}/regenerate
// On success the previous answer is superseded; on failure it stays active
// and the branch error is returned in the result body.
func (h *DispatchHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	var body regenerateBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Model == "" {
		httputil.RespondError(w, http.StatusBadRequest, "model is required")
		return
	}

	var opts chatSvc.BranchOptions
	if body.Options != nil {
		opts.Temperature = body.Options.Temperature
		opts.MaxTokens = body.Options.MaxTokens
		if body.Options.TimeoutMs != nil && *body.Options.TimeoutMs > 0 {
			opts.Timeout = time.Duration(*body.Options.TimeoutMs) * time.Millisecond
		}
	}

	result, err := h.regenerationService.Regenerate(r.Context(), conversationID, userID, body.Model, opts)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}
