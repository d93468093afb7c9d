package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
	"reelflow-backend/internal/repository"
	"reelflow-backend/internal/storage"
)

type retentionVideoStore interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Video, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type audioRecords interface {
	ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AudioChunk, error)
	DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error)
}

type voiceRecords interface {
	DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error)
}

type objectDeleter interface {
	Delete(ctx context.Context, key string) storage.DeleteResult
}

// PassReport summarises one retention pass.
type PassReport struct {
	Due            int `json:"due"`
	Cleaned        int `json:"cleaned"`
	Failed         int `json:"failed"`
	ObjectsDeleted int `json:"objects_deleted"`
	ObjectsMissing int `json:"objects_missing"`
	ObjectErrors   int `json:"object_errors"`
}

// RetentionCollector removes videos older than the retention window along
// with their objects and secondary records.
type RetentionCollector struct {
	videos  retentionVideoStore
	audios  audioRecords
	voices  voiceRecords
	objects objectDeleter
	window  time.Duration
}

func NewRetentionCollector(videos retentionVideoStore, audios audioRecords, voices voiceRecords, objects objectDeleter, window time.Duration) *RetentionCollector {
	return &RetentionCollector{
		videos:  videos,
		audios:  audios,
		voices:  voices,
		objects: objects,
		window:  window,
	}
}

// RunOnce cleans every video created before now minus the window. Per-video
// failures are logged and counted; only the initial query can fail the pass.
func (c *RetentionCollector) RunOnce(ctx context.Context, now time.Time) (PassReport, error) {
	var report PassReport
	cutoff := now.Add(-c.window)

	due, err := c.videos.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("list expired videos: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		log.Info().Time("cutoff", cutoff).Msg("Retention pass: nothing to clean")
		return report, nil
	}

	log.Info().Time("cutoff", cutoff).Int("due", len(due)).Msg("Retention pass started")
	for _, v := range due {
		if err := c.cleanVideo(ctx, v, &report); err != nil {
			report.Failed++
			log.Error().Err(err).Str("video_id", v.ID.String()).Msg("Retention cleanup failed, video kept for next pass")
			continue
		}
		report.Cleaned++
	}

	log.Info().
		Int("due", report.Due).
		Int("cleaned", report.Cleaned).
		Int("failed", report.Failed).
		Int("objects_deleted", report.ObjectsDeleted).
		Int("objects_missing", report.ObjectsMissing).
		Int("object_errors", report.ObjectErrors).
		Msg("Retention pass finished")
	return report, nil
}

// cleanVideo runs fallback raw cleanup, retained-artifact cleanup, secondary
// record cleanup and finally deletes the video row. Object deletions never
// stop the sequence; a record store error does.
func (c *RetentionCollector) cleanVideo(ctx context.Context, v *models.Video, report *PassReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during cleanup: %v", r)
		}
	}()

	logger := log.With().Str("video_id", v.ID.String()).Logger()

	if !v.RawCleaned {
		logger.Warn().Msg("Raw files not cleaned by pipeline, running fallback cleanup")
		for _, key := range c.rawKeys(ctx, v) {
			c.deleteObject(ctx, key, "raw", report)
		}
	}

	if v.DownloadLink != nil {
		c.deleteObject(ctx, *v.DownloadLink, "download_link", report)
	}

	owned := v.OwnedAssetKeys()
	labels := make([]string, 0, len(owned))
	for label := range owned {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		c.deleteObject(ctx, owned[label], label, report)
	}

	n, err := c.audios.DeleteByVideo(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("delete audio records: %w", err)
	}
	logger.Debug().Int64("count", n).Msg("Deleted audio records")

	n, err = c.voices.DeleteByVideo(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("delete voice chunk records: %w", err)
	}
	logger.Debug().Int64("count", n).Msg("Deleted voice chunk records")

	if err := c.videos.Delete(ctx, v.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete video record: %w", err)
	}
	logger.Info().Msg("Video removed by retention")
	return nil
}

// rawKeys merges the raw keys recorded on the video with the chunk rows, so
// chunk audio written after the sub document still gets removed.
func (c *RetentionCollector) rawKeys(ctx context.Context, v *models.Video) []string {
	keys := v.RawObjectKeys()
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}

	chunks, err := c.audios.ListByVideo(ctx, v.ID)
	if err != nil {
		log.Warn().Err(err).Str("video_id", v.ID.String()).Msg("Could not list audio chunks for raw cleanup")
		return keys
	}
	for _, ch := range chunks {
		if ch.AudioKey != "" && !seen[ch.AudioKey] {
			seen[ch.AudioKey] = true
			keys = append(keys, ch.AudioKey)
		}
	}
	return keys
}

// deleteObject is best effort: NotFound and Failed are both logged and the
// caller carries on.
func (c *RetentionCollector) deleteObject(ctx context.Context, key, label string, report *PassReport) {
	if key == "" {
		return
	}

	res := c.objects.Delete(ctx, key)
	switch res.Outcome {
	case storage.Deleted:
		report.ObjectsDeleted++
		log.Info().Str("key", key).Str("label", label).Msg("Deleted object")
	case storage.NotFound:
		report.ObjectsMissing++
		log.Debug().Str("key", key).Str("label", label).Msg("Object already gone")
	default:
		report.ObjectErrors++
		log.Warn().Err(res.Err).Str("key", key).Str("label", label).Msg("Failed to delete object")
	}
}
