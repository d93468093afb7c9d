package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/middleware"
	"reelflow-backend/internal/models"
	"reelflow-backend/internal/services"
	"reelflow-backend/internal/storage"
)

const maxLogoBytes = 5 << 20

type videoService interface {
	CreateVideos(ctx context.Context, ownerID uuid.UUID, ownerEmail string, urls []string) ([]*models.Video, error)
	List(ctx context.Context, ownerID uuid.UUID, f models.VideoFilter) (*models.VideoPage, error)
	Get(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error)
	Rename(ctx context.Context, videoID, ownerID uuid.UUID, title string) (*models.Video, error)
	SamplePresignedURL(ctx context.Context, videoID, ownerID uuid.UUID) (*models.PresignedURL, error)
	DownloadPresignedURL(ctx context.Context, videoID, ownerID uuid.UUID) (*models.PresignedURL, error)
	OpenResult(ctx context.Context, videoID, ownerID uuid.UUID) (*storage.Object, string, error)
	SrtContent(ctx context.Context, videoID, ownerID uuid.UUID) (string, error)
	UploadLogo(ctx context.Context, videoID, ownerID uuid.UUID, filename string, body []byte) (string, error)
	UploadPresign(ctx context.Context, kind, filename string) (*models.UploadTarget, error)
	ApplyEditConfiguration(ctx context.Context, videoID, ownerID uuid.UUID, cfg models.EditConfig) (*models.Video, error)
	CancelPendingEdit(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error)
	ResetForRetry(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error)
	AutoEdit(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID) (models.BatchResult, error)
	BatchEdit(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID, cfg models.EditConfig) (models.BatchResult, error)
	ApplyPreset(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID, presetID uuid.UUID) (models.BatchResult, error)
}

type VideoHandler struct {
	videos videoService
}

func NewVideoHandler(videos videoService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

type submitRequest struct {
	URLs []string `json:"urls"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type videoIDsRequest struct {
	VideoIDs []uuid.UUID `json:"videoIds"`
}

type batchEditRequest struct {
	VideoIDs   []uuid.UUID       `json:"videoIds"`
	EditConfig models.EditConfig `json:"editConfig"`
}

type applyPresetRequest struct {
	VideoIDs []uuid.UUID `json:"videoIds"`
	PresetID uuid.UUID   `json:"presetId"`
}

type presignRequest struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

func (h *VideoHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	videos, err := h.videos.CreateVideos(r.Context(), middleware.GetUserID(r.Context()), middleware.GetUserEmail(r.Context()), req.URLs)
	writeResult(w, r, http.StatusCreated, videos, len(videos) > 0, err)
}

func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.videos.List(r.Context(), middleware.GetUserID(r.Context()), models.VideoFilter{
		Page:   page,
		Limit:  limit,
		Search: q.Get("search"),
		Status: models.VideoStatus(q.Get("status")),
		Stage:  models.VideoStage(q.Get("stage")),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.videos.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VideoHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.videos.Rename(r.Context(), id, middleware.GetUserID(r.Context()), req.Title)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VideoHandler) SamplePresignedURL(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	url, err := h.videos.SamplePresignedURL(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, url)
}

func (h *VideoHandler) DownloadPresignedURL(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	url, err := h.videos.DownloadPresignedURL(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, url)
}

func (h *VideoHandler) StreamResult(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	obj, filename, err := h.videos.OpenResult(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, obj.Body); err != nil {
		log.Warn().Err(err).Str("video_id", id.String()).Int64("bytes", n).Msg("Result stream interrupted")
	}
}

func (h *VideoHandler) DownloadSrt(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	srt, err := h.videos.SrtContent(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subtitles.srt"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, srt)
}

func (h *VideoHandler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxLogoBytes+1024)
	file, header, err := r.FormFile("logo")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", map[string]string{"logo": "No file provided"}, r))
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxLogoBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read uploaded file", r))
		return
	}
	if len(body) > maxLogoBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", fmt.Sprintf("Logo must be at most %d MB", maxLogoBytes>>20), r))
		return
	}

	key, err := h.videos.UploadLogo(r.Context(), id, middleware.GetUserID(r.Context()), header.Filename, body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"fileKey": key})
}

func (h *VideoHandler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	var cfg models.EditConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	v, err := h.videos.ApplyEditConfiguration(r.Context(), id, middleware.GetUserID(r.Context()), cfg)
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *VideoHandler) CancelAuto(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.videos.CancelPendingEdit(r.Context(), id, middleware.GetUserID(r.Context()))
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *VideoHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.videos.ResetForRetry(r.Context(), id, middleware.GetUserID(r.Context()))
	writeResult(w, r, http.StatusOK, v, v != nil, err)
}

func (h *VideoHandler) AutoEdit(w http.ResponseWriter, r *http.Request) {
	var req videoIDsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.videos.AutoEdit(r.Context(), middleware.GetUserID(r.Context()), req.VideoIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *VideoHandler) BatchEdit(w http.ResponseWriter, r *http.Request) {
	var req batchEditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.videos.BatchEdit(r.Context(), middleware.GetUserID(r.Context()), req.VideoIDs, req.EditConfig)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *VideoHandler) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	var req applyPresetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PresetID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", map[string]string{"presetId": "presetId is required"}, r))
		return
	}
	result, err := h.videos.ApplyPreset(r.Context(), middleware.GetUserID(r.Context()), req.VideoIDs, req.PresetID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// FilesPresign issues a direct-upload URL for background music or a logo.
func (h *VideoHandler) FilesPresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = services.UploadKindAudio
	}
	target, err := h.videos.UploadPresign(r.Context(), req.Kind, req.Filename)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}
