package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
)

type pipelineService interface {
	CompleteDownload(ctx context.Context, videoID uuid.UUID) (*models.Video, error)
	CompleteAiProcess(ctx context.Context, videoID uuid.UUID, audioKey string) (*models.Video, error)
	CompleteEditProcess(ctx context.Context, videoID uuid.UUID, resultKey string) (*models.Video, error)
	FailVideo(ctx context.Context, videoID uuid.UUID, message string) (*models.Video, error)
}

// WebhookHandler receives completion callbacks from the external workers.
type WebhookHandler struct {
	pipeline pipelineService
}

func NewWebhookHandler(pipeline pipelineService) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline}
}

type webhookRequest struct {
	VideoID   uuid.UUID `json:"videoId"`
	AudioKey  string    `json:"audioKey,omitempty"`
	ResultKey string    `json:"resultKey,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request) (webhookRequest, bool) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	if req.VideoID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", map[string]string{"videoId": "videoId is required"}, r))
		return req, false
	}
	return req, true
}

func (h *WebhookHandler) DownloadComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	v, err := h.pipeline.CompleteDownload(r.Context(), req.VideoID)
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *WebhookHandler) N8nComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	v, err := h.pipeline.CompleteAiProcess(r.Context(), req.VideoID, req.AudioKey)
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *WebhookHandler) EditComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	v, err := h.pipeline.CompleteEditProcess(r.Context(), req.VideoID, req.ResultKey)
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *WebhookHandler) Failed(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	log.Warn().Str("video_id", req.VideoID.String()).Str("error", req.Error).Msg("Worker reported failure")
	v, err := h.pipeline.FailVideo(r.Context(), req.VideoID, req.Error)
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}
