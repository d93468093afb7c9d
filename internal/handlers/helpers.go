package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
	"reelflow-backend/internal/services"
)

// pendingResponse is returned with 202 when the record changed but the
// follow-up work message could not be queued.
type pendingResponse struct {
	Data    interface{} `json:"data"`
	Warning string      `json:"warning"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		transition *services.StateTransitionError
		queueErr   *services.QueueUnavailableError
		storeErr   *services.StoreObjectError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validation.Fields, r))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFound.Message, r))
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorResp("INVALID_STATE_TRANSITION", transition.Error(), r))
	case errors.As(err, &queueErr):
		log.Error().Err(err).Str("queue", queueErr.Queue).Msg("Queue unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResp("QUEUE_UNAVAILABLE", "Job queue is unavailable", r))
	case errors.As(err, &storeErr):
		log.Error().Err(err).Str("key", storeErr.Key).Msg("Object store request failed")
		writeJSON(w, http.StatusBadGateway, errorResp("STORAGE_ERROR", "Object storage request failed", r))
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled service error")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// writeResult writes data with status, or maps err. A queue failure that
// still carries data means the transition was committed, so the caller gets
// 202 and a warning instead of an error.
func writeResult(w http.ResponseWriter, r *http.Request, status int, data interface{}, hasData bool, err error) {
	if err != nil {
		var queueErr *services.QueueUnavailableError
		if hasData && errors.As(err, &queueErr) {
			log.Warn().Err(err).Str("queue", queueErr.Queue).Msg("Committed without queueing follow-up work")
			writeJSON(w, http.StatusAccepted, pendingResponse{Data: data, Warning: queueErr.Error()})
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, status, data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}

func videoIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return uuid.Nil, false
	}
	return id, true
}
