package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
	"reelflow-backend/internal/repository"
	"reelflow-backend/internal/storage"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	UploadKindAudio = "audio"
	UploadKindLogo  = "logo"
)

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)
	logoExts       = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true}
)

func (o *Orchestrator) Get(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error) {
	return o.load(ctx, videoID, ownerID)
}

func (o *Orchestrator) List(ctx context.Context, ownerID uuid.UUID, f models.VideoFilter) (*models.VideoPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "Unknown status"}}
	}
	if f.Stage != "" && !f.Stage.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"stage": "Unknown stage"}}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	videos, total, err := o.videos.List(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	if videos == nil {
		videos = []*models.Video{}
	}

	return &models.VideoPage{
		Data:       videos,
		Total:      total,
		Page:       f.Page,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

func (o *Orchestrator) Rename(ctx context.Context, videoID, ownerID uuid.UUID, title string) (*models.Video, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	v, err := o.videos.Update(ctx, videoID, repository.Guard{OwnerID: ownerID}, repository.VideoChange{Title: ptr(strings.TrimSpace(title))})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Message: "Video not found"}
		}
		return nil, fmt.Errorf("rename video: %w", err)
	}
	return v, nil
}

func (o *Orchestrator) SamplePresignedURL(ctx context.Context, videoID, ownerID uuid.UUID) (*models.PresignedURL, error) {
	v, err := o.load(ctx, videoID, ownerID)
	if err != nil {
		return nil, err
	}
	if v.Sub.Sample == "" {
		return nil, &NotFoundError{Message: "Video sample not found"}
	}
	return o.presignGet(ctx, v.Sub.Sample, "")
}

func (o *Orchestrator) DownloadPresignedURL(ctx context.Context, videoID, ownerID uuid.UUID) (*models.PresignedURL, error) {
	v, err := o.load(ctx, videoID, ownerID)
	if err != nil {
		return nil, err
	}
	if v.DownloadLink == nil || *v.DownloadLink == "" {
		return nil, &NotFoundError{Message: "Video download link not found"}
	}
	return o.presignGet(ctx, *v.DownloadLink, downloadFilename(v))
}

// OpenResult streams the final video through the API for clients that cannot
// follow a presigned URL. The caller closes the returned object.
func (o *Orchestrator) OpenResult(ctx context.Context, videoID, ownerID uuid.UUID) (*storage.Object, string, error) {
	v, err := o.load(ctx, videoID, ownerID)
	if err != nil {
		return nil, "", err
	}
	if v.DownloadLink == nil || *v.DownloadLink == "" {
		return nil, "", &NotFoundError{Message: "Video download link not found"}
	}

	obj, err := o.objects.GetStream(ctx, *v.DownloadLink)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", &NotFoundError{Message: "Video result no longer stored"}
		}
		return nil, "", &StoreObjectError{Key: *v.DownloadLink, Err: err}
	}
	return obj, downloadFilename(v), nil
}

// SrtContent returns the concatenated subtitles, empty when not produced yet.
func (o *Orchestrator) SrtContent(ctx context.Context, videoID, ownerID uuid.UUID) (string, error) {
	v, err := o.load(ctx, videoID, ownerID)
	if err != nil {
		return "", err
	}
	return v.Sub.SrtConcatenated, nil
}

// UploadLogo stores a logo image for the video and returns its object key.
func (o *Orchestrator) UploadLogo(ctx context.Context, videoID, ownerID uuid.UUID, filename string, body []byte) (string, error) {
	if _, err := o.load(ctx, videoID, ownerID); err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", &ValidationError{Fields: map[string]string{"file": "No file provided"}}
	}
	ext := storage.Ext(filename)
	if !logoExts[ext] {
		return "", &ValidationError{Fields: map[string]string{"file": "Logo must be png, jpg, jpeg, gif or webp"}}
	}

	key := fmt.Sprintf("logos/%s/%d.%s", videoID, o.now().UnixMilli(), ext)
	if err := o.objects.Put(ctx, key, body, storage.ContentTypeFor(filename)); err != nil {
		return "", &StoreObjectError{Key: key, Err: err}
	}

	log.Info().Str("video_id", videoID.String()).Str("key", key).Msg("Logo uploaded")
	return key, nil
}

// UploadPresign issues a presigned PUT for a direct browser upload.
func (o *Orchestrator) UploadPresign(ctx context.Context, kind, filename string) (*models.UploadTarget, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, &ValidationError{Fields: map[string]string{"filename": "filename is required"}}
	}
	ext := storage.Ext(filename)

	var key string
	switch kind {
	case UploadKindAudio:
		if ext != "mp3" {
			return nil, &ValidationError{Fields: map[string]string{"filename": "Only MP3 files are accepted"}}
		}
		key = fmt.Sprintf("uploads/audio/%d-%s.mp3", o.now().UnixMilli(), shortID())
	case UploadKindLogo:
		if !logoExts[ext] {
			return nil, &ValidationError{Fields: map[string]string{"filename": "Only png, jpg, jpeg, gif and webp images are accepted"}}
		}
		key = fmt.Sprintf("uploads/logos/%d-%s.%s", o.now().UnixMilli(), shortID(), ext)
	default:
		return nil, &ValidationError{Fields: map[string]string{"kind": "Kind must be audio or logo"}}
	}

	url, err := o.objects.Presign(ctx, storage.VerbPut, key, o.cfg.UploadPresignTTL, "")
	if err != nil {
		return nil, &StoreObjectError{Key: key, Err: err}
	}
	return &models.UploadTarget{
		UploadURL: url,
		FileKey:   key,
		ExpiresAt: o.now().Add(o.cfg.UploadPresignTTL).UTC().Format(time.RFC3339),
	}, nil
}

func (o *Orchestrator) presignGet(ctx context.Context, key, filename string) (*models.PresignedURL, error) {
	url, err := o.objects.Presign(ctx, storage.VerbGet, key, o.cfg.PresignTTL, filename)
	if err != nil {
		return nil, &StoreObjectError{Key: key, Err: err}
	}
	return &models.PresignedURL{
		URL:       url,
		ExpiresAt: o.now().Add(o.cfg.PresignTTL).UTC().Format(time.RFC3339),
	}, nil
}

// downloadFilename derives the attachment name offered for the final video.
func downloadFilename(v *models.Video) string {
	if v.Title == "" {
		return fmt.Sprintf("video_%s.mp4", v.ID)
	}
	return filenameUnsafe.ReplaceAllString(v.Title, "_") + ".mp4"
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
