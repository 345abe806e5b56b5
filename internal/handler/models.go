package handler

import (
	"log/slog"
	"net/http"

	chatModels "chorus/internal/domain/models/chat"
	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/httputil"
)

// ModelsHandler handles model membership HTTP requests
type ModelsHandler struct {
	registry chatSvc.ModelRegistryService
	logger   *slog.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(registry chatSvc.ModelRegistryService, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		registry: registry,
		logger:   logger,
	}
}

// AddModel adds a model to the conversation's roster
// POST /api/conversations/{id}/models
// Returns 201 if added, 409 if the model is already a live member
func (h *ModelsHandler) AddModel(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	var req chatSvc.AddModelRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ConversationID = conversationID
	req.UserID = userID

	membership, err := h.registry.AddModel(r.Context(), &req)
	if err != nil {
		// Duplicate live member: respond 409 with the membership that won
		HandleCreateConflict(w, err, func() (*chatModels.ModelMembership, error) {
			return h.registry.GetModel(r.Context(), conversationID, userID, req.Model)
		})
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, membership)
}

// PatchModel updates a membership's visibility or alias
// PATCH /api/conversations/{id}/models/{model}
// Body carries visibility ("visible" | "hidden") or alias, not both.
func (h *ModelsHandler) PatchModel(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	model, ok := PathParam(w, r, "model", "Model ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	var body struct {
		Visibility *string `json:"visibility,omitempty"`
		Alias      *string `json:"alias,omitempty"`
	}
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if (body.Visibility == nil) == (body.Alias == nil) {
		httputil.RespondError(w, http.StatusBadRequest, "exactly one of visibility or alias is required")
		return
	}

	var (
		membership *chatModels.ModelMembership
		err        error
	)
	switch {
	case body.Alias != nil:
		membership, err = h.registry.Rename(r.Context(), conversationID, userID, model, *body.Alias)
	case *body.Visibility == chatModels.VisibilityVisible:
		membership, err = h.registry.ShowModel(r.Context(), conversationID, userID, model)
	case *body.Visibility == chatModels.VisibilityHidden:
		membership, err = h.registry.HideModel(r.Context(), conversationID, userID, model)
	default:
		httputil.RespondError(w, http.StatusBadRequest, "visibility must be 'visible' or 'hidden'")
		return
	}
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, membership)
}

// RemoveModel permanently removes a model from the conversation
// DELETE /api/conversations/{id}/models/{model}
func (h *ModelsHandler) RemoveModel(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	model, ok := PathParam(w, r, "model", "Model ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	if err := h.registry.RemoveModel(r.Context(), conversationID, userID, model); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListModels returns the memberships currently receiving dispatches
// GET /api/conversations/{id}/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	memberships, err := h.registry.ListVisible(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, memberships)
}
