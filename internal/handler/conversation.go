package handler

import (
	"log/slog"
	"net/http"

	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/httputil"
)

// ConversationHandler handles conversation HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type ConversationHandler struct {
	conversationService chatSvc.ConversationService
	logger              *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversationService chatSvc.ConversationService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		logger:              logger,
	}
}

// CreateConversation creates a conversation with its initial model roster
// POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)

	var req chatSvc.CreateConversationRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = userID

	conv, err := h.conversationService.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, conv)
}

// ListConversations retrieves all conversations for the authenticated user
// GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)

	convs, err := h.conversationService.List(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, convs)
}

// GetConversation retrieves a conversation with its model memberships
// GET /api/conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	conv, err := h.conversationService.Get(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conv)
}

// GetTurns returns conversation history. With ?model= set it returns that
// model's live projection; with ?all=true it returns the full audit log,
// superseded turns included.
// GET /api/conversations/{id}/turns?model=&all=
func (h *ConversationHandler) GetTurns(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	model := r.URL.Query().Get("model")
	includeAll := r.URL.Query().Get("all") == "true"

	if model != "" && includeAll {
		httputil.RespondError(w, http.StatusBadRequest, "model and all are mutually exclusive")
		return
	}

	turns, err := h.conversationService.Turns(r.Context(), conversationID, userID, model, includeAll)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turns)
}

// DeleteConversation soft-deletes a conversation
// DELETE /api/conversations/{id}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	conv, err := h.conversationService.Delete(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conv)
}
