package handler

import (
	"log/slog"
	"net/http"

	chatSvc "chorus/internal/domain/services/chat"
	"chorus/internal/httputil"
)

// MetricsHandler handles usage metrics HTTP requests
type MetricsHandler struct {
	metricsService chatSvc.MetricsService
	logger         *slog.Logger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metricsService chatSvc.MetricsService, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{
		metricsService: metricsService,
		logger:         logger,
	}
}

// GetConversationMetrics returns the per-model usage and cost rollup
// GET /api/conversations/{id}/metrics
func (h *MetricsHandler) GetConversationMetrics(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}

	userID := httputil.GetUserID(r)
	report, err := h.metricsService.ConversationMetrics(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, report)
}
