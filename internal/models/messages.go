package models

import (
	"github.com/google/uuid"
)

// Work message payloads. Field names follow what the external workers consume.

type DownloadMessage struct {
	VideoID uuid.UUID `json:"videoId"`
	URL     string    `json:"url"`
}

type AIProcessMessage struct {
	AudioID   uuid.UUID `json:"audio_id"`
	VideoID   uuid.UUID `json:"video_id"`
	AudioKey  string    `json:"audio_key"`
	FileIndex int       `json:"file_index"`
}

type EditProcessMessage struct {
	VideoID uuid.UUID `json:"videoId"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type VideoStatusEvent struct {
	VideoID uuid.UUID   `json:"video_id"`
	Stage   VideoStage  `json:"stage"`
	Status  VideoStatus `json:"status"`
	Error   *string     `json:"error,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// BatchResult summarises a multi-video edit request.
type BatchResult struct {
	Processed int      `json:"processed"`
	Skipped   []string `json:"skipped,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

type PresignedURL struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

// UploadTarget is a presigned PUT the client uploads to directly.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	FileKey   string `json:"fileKey"`
	ExpiresAt string `json:"expiresAt"`
}
