package models

import (
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusInProgress VideoStatus = "in_progress"
	StatusFailed     VideoStatus = "failed"
	StatusCompleted  VideoStatus = "completed"
)

func (s VideoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// VideoStage is the pipeline position. Stages only move forward
// (download → user_editing → ai_process → edit_process) except on retry.
type VideoStage string

const (
	StageDownload    VideoStage = "download"
	StageUserEditing VideoStage = "user_editing"
	StageAIProcess   VideoStage = "ai_process"
	StageEditProcess VideoStage = "edit_process"
)

var stageOrder = map[VideoStage]int{
	StageDownload:    0,
	StageUserEditing: 1,
	StageAIProcess:   2,
	StageEditProcess: 3,
}

// Rank returns the position of the stage in the pipeline, or -1 when unknown.
func (s VideoStage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

func (s VideoStage) Valid() bool { return s.Rank() >= 0 }

// AssetOwnership records who owns a binary asset referenced from editing meta.
type AssetOwnership string

const (
	// OwnershipOwned assets belong to the video and are reclaimed with it.
	OwnershipOwned AssetOwnership = "owned"
	// OwnershipSharedFromPreset assets are referenced by a preset and outlive the video.
	OwnershipSharedFromPreset AssetOwnership = "shared_from_preset"
)

type AssetRef struct {
	FileKey   string         `json:"file_key" validate:"notblank"`
	Ownership AssetOwnership `json:"ownership,omitempty"`
}

// ResolveOwnership returns the explicit tag when present. Rows written before
// tagging existed fall back to the auto_edit flag (auto ⇒ shared).
func (a AssetRef) ResolveOwnership(autoEdit bool) AssetOwnership {
	if a.Ownership != "" {
		return a.Ownership
	}
	if autoEdit {
		return OwnershipSharedFromPreset
	}
	return OwnershipOwned
}

type LogoRef struct {
	AssetRef
	PositionX float64 `json:"position_x" validate:"min=0,max=100"`
	PositionY float64 `json:"position_y" validate:"min=0,max=100"`
	Scale     float64 `json:"scale" validate:"min=0"`
}

type SubtitleStyle struct {
	Color        string  `json:"color" validate:"omitempty,hexcolor"`
	BgColor      string  `json:"bg_color" validate:"omitempty,hexcolor"`
	FontSize     float64 `json:"font_size" validate:"min=0,max=200"`
	Position     string  `json:"position" validate:"omitempty,oneof=top middle bottom"`
	PositionX    float64 `json:"position_x" validate:"min=0,max=100"`
	PositionY    float64 `json:"position_y" validate:"min=0,max=100"`
	WidthPercent float64 `json:"width_percent" validate:"min=0,max=100"`
}

type EditingMeta struct {
	Logo       *LogoRef       `json:"logo,omitempty"`
	Subtitle   *SubtitleStyle `json:"subtitle,omitempty"`
	BgMusic    *AssetRef      `json:"bg_music,omitempty"`
	ResizeMode string         `json:"resize_mode" validate:"omitempty,oneof=9:16 16:9"`
}

// StampOwnership tags every asset reference with the given ownership.
func (m *EditingMeta) StampOwnership(o AssetOwnership) {
	if m == nil {
		return
	}
	if m.Logo != nil && m.Logo.FileKey != "" {
		m.Logo.Ownership = o
	}
	if m.BgMusic != nil && m.BgMusic.FileKey != "" {
		m.BgMusic.Ownership = o
	}
}

// Clone returns a copy that shares no pointers with m.
func (m EditingMeta) Clone() EditingMeta {
	out := EditingMeta{ResizeMode: m.ResizeMode}
	if m.Logo != nil {
		logo := *m.Logo
		out.Logo = &logo
	}
	if m.Subtitle != nil {
		sub := *m.Subtitle
		out.Subtitle = &sub
	}
	if m.BgMusic != nil {
		music := *m.BgMusic
		out.BgMusic = &music
	}
	return out
}

// EditConfig is the editing configuration supplied by a caller or a preset.
type EditConfig struct {
	EditingMeta
	Language  string `json:"language,omitempty" validate:"omitempty,lang_code"`
	VoiceCode string `json:"voice_code,omitempty" validate:"voice_code"`
}

type SubAudio struct {
	AudioKey  string `json:"audio_key"`
	FileIndex int    `json:"file_index"`
	SrtOutput string `json:"srt_output,omitempty"`
}

// SubArtifacts holds object keys produced by the external workers.
type SubArtifacts struct {
	Sample          string     `json:"sample,omitempty"`
	Full            string     `json:"full,omitempty"`
	VideoOriginMute string     `json:"video_origin_mute,omitempty"`
	FinalAudioKey   string     `json:"final_audio_key,omitempty"`
	Audios          []SubAudio `json:"audios,omitempty"`
	SrtConcatenated string     `json:"srt_concatenated,omitempty"`
}

type Video struct {
	ID                 uuid.UUID    `json:"id"`
	OwnerID            uuid.UUID    `json:"owner_id"`
	URL                string       `json:"url"`
	Title              string       `json:"title"`
	Status             VideoStatus  `json:"status"`
	Stage              VideoStage   `json:"stage"`
	ErrorMsg           *string      `json:"error_msg"`
	DownloadLink       *string      `json:"download_link"`
	S3Key              *string      `json:"s3_key"`
	AudioProcessed     *string      `json:"audio_processed"`
	Sub                SubArtifacts `json:"sub"`
	EditingMeta        *EditingMeta `json:"user_editing_meta"`
	AutoEdit           bool         `json:"auto_edit"`
	BatchEdit          bool         `json:"batch_edit"`
	Language           string       `json:"language"`
	VoiceCode          string       `json:"voice_code"`
	RawCleaned         bool         `json:"raw_cleaned"`
	OriginalDurationMs int64        `json:"original_duration_ms"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// HasPendingEdit reports whether an auto or batch configuration is waiting
// for the download to finish.
func (v *Video) HasPendingEdit() bool {
	return v.AutoEdit || v.BatchEdit
}

// RawObjectKeys lists the raw intermediate objects recorded on the video.
func (v *Video) RawObjectKeys() []string {
	keys := make([]string, 0, 3+len(v.Sub.Audios))
	for _, k := range []string{v.Sub.VideoOriginMute, v.Sub.Sample, v.Sub.FinalAudioKey} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	for _, a := range v.Sub.Audios {
		if a.AudioKey != "" {
			keys = append(keys, a.AudioKey)
		}
	}
	return keys
}

// OwnedAssetKeys returns logo and background-music keys owned by this video.
func (v *Video) OwnedAssetKeys() map[string]string {
	owned := map[string]string{}
	if v.EditingMeta == nil {
		return owned
	}
	if l := v.EditingMeta.Logo; l != nil && l.FileKey != "" && l.ResolveOwnership(v.AutoEdit) == OwnershipOwned {
		owned["logo"] = l.FileKey
	}
	if m := v.EditingMeta.BgMusic; m != nil && m.FileKey != "" && m.ResolveOwnership(v.AutoEdit) == OwnershipOwned {
		owned["bg_music"] = m.FileKey
	}
	return owned
}

// AudioChunk is a row of the audios collection, one per transcribed segment.
type AudioChunk struct {
	ID        uuid.UUID `json:"id"`
	VideoID   uuid.UUID `json:"video_id"`
	FileIndex int       `json:"file_index"`
	AudioKey  string    `json:"audio_key"`
	SrtOutput *string   `json:"srt_output"`
	CreatedAt time.Time `json:"created_at"`
}

type EditPreset struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   uuid.UUID  `json:"owner_id"`
	Name      string     `json:"name"`
	Config    EditConfig `json:"config"`
	IsDefault bool       `json:"is_default"`
	CreatedAt time.Time  `json:"created_at"`
}

type VideoFilter struct {
	Page   int
	Limit  int
	Search string
	Status VideoStatus
	Stage  VideoStage
}

type VideoPage struct {
	Data       []*Video `json:"data"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	TotalPages int      `json:"totalPages"`
}
