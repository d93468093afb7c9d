package handlers

import (
	"context"
	"errors"
	"net/http"

	"reelflow-backend/internal/services"
)

type retentionTrigger interface {
	Trigger(ctx context.Context) (services.PassReport, error)
}

type AdminHandler struct {
	retention retentionTrigger
}

func NewAdminHandler(retention retentionTrigger) *AdminHandler {
	return &AdminHandler{retention: retention}
}

// RunRetention runs a retention pass now and returns its report.
func (h *AdminHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	report, err := h.retention.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrPassInProgress) {
			writeJSON(w, http.StatusConflict, errorResp("PASS_IN_PROGRESS", "A retention pass is already running", r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
