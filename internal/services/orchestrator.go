package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
	"reelflow-backend/internal/queue"
	"reelflow-backend/internal/repository"
	"reelflow-backend/internal/storage"
)

const (
	// casAttempts bounds how often a transition re-reads after losing a
	// conditional update to a concurrent writer.
	casAttempts    = 3
	publishTimeout = 15 * time.Second

	landscapeThresholdMs = 120000
)

var vietnamTime = time.FixedZone("ICT", 7*60*60)

type videoStore interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	List(ctx context.Context, ownerID uuid.UUID, f models.VideoFilter) ([]*models.Video, int, error)
	Update(ctx context.Context, id uuid.UUID, guard repository.Guard, change repository.VideoChange) (*models.Video, error)
}

type chunkStore interface {
	ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AudioChunk, error)
}

type presetStore interface {
	GetOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.EditPreset, error)
}

type publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

type objectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Presign(ctx context.Context, verb storage.Verb, key string, ttl time.Duration, filename string) (string, error)
	GetStream(ctx context.Context, key string) (*storage.Object, error)
	Delete(ctx context.Context, key string) storage.DeleteResult
}

type statusNotifier interface {
	VideoChanged(ctx context.Context, v *models.Video)
}

type OrchestratorConfig struct {
	DefaultLanguage  string
	PresignTTL       time.Duration
	UploadPresignTTL time.Duration
}

// Orchestrator owns the video stage machine. Every transition is a single
// guarded update; work messages are published only after it commits.
type Orchestrator struct {
	videos   videoStore
	chunks   chunkStore
	presets  presetStore
	queue    publisher
	objects  objectStore
	notifier statusNotifier
	cfg      OrchestratorConfig
	now      func() time.Time
}

func NewOrchestrator(
	videos videoStore,
	chunks chunkStore,
	presets presetStore,
	q publisher,
	objects objectStore,
	notifier statusNotifier,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "vietnamese"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.UploadPresignTTL <= 0 {
		cfg.UploadPresignTTL = 15 * time.Minute
	}
	return &Orchestrator{
		videos:   videos,
		chunks:   chunks,
		presets:  presets,
		queue:    q,
		objects:  objects,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// editSource records how an edit configuration was supplied.
type editSource int

const (
	editManual editSource = iota
	editAuto
	editBatch
	editPreset
)

func (s editSource) ownership() models.AssetOwnership {
	switch s {
	case editAuto, editPreset:
		return models.OwnershipSharedFromPreset
	default:
		return models.OwnershipOwned
	}
}

// flags returns the auto_edit/batch_edit values to store. A manual edit that
// has to wait for the download is kept pending through batch_edit.
func (s editSource) flags(deferred bool) (autoEdit, batchEdit bool) {
	switch s {
	case editAuto, editPreset:
		return true, false
	case editBatch:
		return false, true
	default:
		return false, deferred
	}
}

type decision struct {
	guard  repository.Guard
	change repository.VideoChange
}

// CreateVideos stores one pending video per url and queues a download for each.
func (o *Orchestrator) CreateVideos(ctx context.Context, ownerID uuid.UUID, ownerEmail string, urls []string) ([]*models.Video, error) {
	if err := validateURLs(urls); err != nil {
		return nil, err
	}

	dateStr := o.now().In(vietnamTime).Format("2006-01-02 15:04:05")
	baseTitle := "Video - " + dateStr
	if ownerEmail != "" {
		baseTitle = ownerEmail + " - " + dateStr
	}

	videos := make([]*models.Video, 0, len(urls))
	var publishErrs []error
	for i, url := range urls {
		title := baseTitle
		if len(urls) > 1 {
			title = fmt.Sprintf("%s (%d)", baseTitle, i+1)
		}

		v := &models.Video{
			OwnerID:   ownerID,
			URL:       url,
			Title:     title,
			Status:    models.StatusPending,
			Stage:     models.StageDownload,
			Language:  o.cfg.DefaultLanguage,
			VoiceCode: "",
		}
		if err := o.videos.Create(ctx, v); err != nil {
			return videos, fmt.Errorf("create video: %w", err)
		}
		videos = append(videos, v)

		if err := o.publish(ctx, queue.Download, models.DownloadMessage{VideoID: v.ID, URL: v.URL}); err != nil {
			publishErrs = append(publishErrs, fmt.Errorf("video %s: %w", v.ID, err))
		}
	}

	log.Info().Str("owner_id", ownerID.String()).Int("count", len(videos)).Msg("Videos submitted")
	if len(publishErrs) > 0 {
		return videos, o.queueFailure(uuid.Nil, queue.Download, errors.Join(publishErrs...))
	}
	return videos, nil
}

// ApplyEditConfiguration stores a manual edit. In download it stays pending
// until the download completes; in user_editing it starts AI processing.
func (o *Orchestrator) ApplyEditConfiguration(ctx context.Context, videoID, ownerID uuid.UUID, cfg models.EditConfig) (*models.Video, error) {
	if err := validateEditConfig(cfg); err != nil {
		return nil, err
	}
	return o.applyEdit(ctx, videoID, ownerID, editManual, func(*models.Video) models.EditConfig { return cfg })
}

func (o *Orchestrator) AutoEdit(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID) (models.BatchResult, error) {
	if len(videoIDs) == 0 {
		return models.BatchResult{}, &ValidationError{Fields: map[string]string{"videoIds": "At least one video is required"}}
	}
	return o.applyToMany(ctx, ownerID, videoIDs, editAuto, o.defaultEditConfig), nil
}

func (o *Orchestrator) BatchEdit(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID, cfg models.EditConfig) (models.BatchResult, error) {
	if len(videoIDs) == 0 {
		return models.BatchResult{}, &ValidationError{Fields: map[string]string{"videoIds": "At least one video is required"}}
	}
	if err := validateEditConfig(cfg); err != nil {
		return models.BatchResult{}, err
	}
	return o.applyToMany(ctx, ownerID, videoIDs, editBatch, func(v *models.Video) models.EditConfig {
		out := cfg
		out.EditingMeta = cfg.EditingMeta.Clone()
		out.ResizeMode = resizeFor(v.OriginalDurationMs)
		return out
	}), nil
}

func (o *Orchestrator) ApplyPreset(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID, presetID uuid.UUID) (models.BatchResult, error) {
	if len(videoIDs) == 0 {
		return models.BatchResult{}, &ValidationError{Fields: map[string]string{"videoIds": "At least one video is required"}}
	}

	preset, err := o.presets.GetOwned(ctx, presetID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.BatchResult{}, &NotFoundError{Message: "Preset not found"}
		}
		return models.BatchResult{}, fmt.Errorf("load preset: %w", err)
	}
	if err := validateEditConfig(preset.Config); err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			vErr.Fields["presetId"] = "Preset configuration is invalid"
		}
		log.Warn().Err(err).Str("preset_id", presetID.String()).Msg("Stored preset failed validation")
		return models.BatchResult{}, err
	}

	return o.applyToMany(ctx, ownerID, videoIDs, editPreset, func(v *models.Video) models.EditConfig {
		out := preset.Config
		out.EditingMeta = preset.Config.EditingMeta.Clone()
		if out.ResizeMode == "" {
			out.ResizeMode = resizeFor(v.OriginalDurationMs)
		}
		return out
	}), nil
}

// CancelPendingEdit clears a configuration that is still waiting for the
// download to finish.
func (o *Orchestrator) CancelPendingEdit(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error) {
	const op = "cancel pending edit"
	return o.transition(ctx, videoID, ownerID, op, func(cur *models.Video) (decision, error) {
		if cur.Stage != models.StageDownload {
			return decision{}, &StateTransitionError{VideoID: cur.ID, From: cur.Stage, Op: op}
		}
		return decision{change: repository.VideoChange{
			ClearEditingMeta: true,
			AutoEdit:         ptr(false),
			BatchEdit:        ptr(false),
		}}, nil
	})
}

// CompleteDownload is called by the download worker. A pending edit sends
// the video straight to AI processing; otherwise it waits for the user.
func (o *Orchestrator) CompleteDownload(ctx context.Context, videoID uuid.UUID) (*models.Video, error) {
	const op = "complete download"
	var advanced bool
	v, err := o.transition(ctx, videoID, uuid.Nil, op, func(cur *models.Video) (decision, error) {
		if cur.Stage != models.StageDownload {
			return decision{}, &StateTransitionError{VideoID: cur.ID, From: cur.Stage, Op: op}
		}
		pending := cur.HasPendingEdit()
		advanced = pending
		d := decision{guard: repository.Guard{PendingEdit: ptr(pending)}}
		if pending {
			d.change = repository.VideoChange{Stage: ptr(models.StageAIProcess), Status: ptr(models.StatusInProgress)}
		} else {
			d.change = repository.VideoChange{Stage: ptr(models.StageUserEditing), Status: ptr(models.StatusPending)}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}

	if advanced {
		return v, o.publishChunks(ctx, v)
	}
	return v, nil
}

func (o *Orchestrator) CompleteAiProcess(ctx context.Context, videoID uuid.UUID, audioKey string) (*models.Video, error) {
	if audioKey == "" {
		return nil, &ValidationError{Fields: map[string]string{"audioKey": "Audio key is required"}}
	}

	const op = "complete AI processing"
	v, err := o.transition(ctx, videoID, uuid.Nil, op, func(cur *models.Video) (decision, error) {
		if cur.Stage != models.StageAIProcess {
			return decision{}, &StateTransitionError{VideoID: cur.ID, From: cur.Stage, Op: op}
		}
		return decision{change: repository.VideoChange{
			AudioProcessed: ptr(audioKey),
			Stage:          ptr(models.StageEditProcess),
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.publish(ctx, queue.EditProcess, models.EditProcessMessage{VideoID: v.ID}); err != nil {
		return v, o.queueFailure(v.ID, queue.EditProcess, err)
	}
	return v, nil
}

func (o *Orchestrator) CompleteEditProcess(ctx context.Context, videoID uuid.UUID, resultKey string) (*models.Video, error) {
	if resultKey == "" {
		return nil, &ValidationError{Fields: map[string]string{"resultKey": "Result key is required"}}
	}

	const op = "complete editing"
	return o.transition(ctx, videoID, uuid.Nil, op, func(cur *models.Video) (decision, error) {
		if cur.Stage != models.StageEditProcess {
			return decision{}, &StateTransitionError{VideoID: cur.ID, From: cur.Stage, Op: op}
		}
		return decision{change: repository.VideoChange{
			DownloadLink: ptr(resultKey),
			Status:       ptr(models.StatusCompleted),
		}}, nil
	})
}

// FailVideo records a worker failure. The stage is kept so the user can see
// where processing stopped.
func (o *Orchestrator) FailVideo(ctx context.Context, videoID uuid.UUID, message string) (*models.Video, error) {
	if message == "" {
		message = "processing failed"
	}
	return o.transition(ctx, videoID, uuid.Nil, "fail", func(cur *models.Video) (decision, error) {
		return decision{change: repository.VideoChange{
			Status:   ptr(models.StatusFailed),
			ErrorMsg: ptr(message),
		}}, nil
	})
}

// ResetForRetry sends the video back to (pending, download) from any stage
// and queues a fresh download.
func (o *Orchestrator) ResetForRetry(ctx context.Context, videoID, ownerID uuid.UUID) (*models.Video, error) {
	var oldResult string
	v, err := o.transition(ctx, videoID, ownerID, "retry", func(cur *models.Video) (decision, error) {
		oldResult = ""
		if cur.DownloadLink != nil {
			oldResult = *cur.DownloadLink
		}
		return decision{change: repository.VideoChange{
			Stage:          ptr(models.StageDownload),
			Status:         ptr(models.StatusPending),
			ClearArtifacts: true,
			RawCleaned:     ptr(false),
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("video_id", v.ID.String()).Msg("Video reset for retry")
	o.dropStaleResult(ctx, v.ID, oldResult)
	if err := o.publish(ctx, queue.Download, models.DownloadMessage{VideoID: v.ID, URL: v.URL}); err != nil {
		return v, o.queueFailure(v.ID, queue.Download, err)
	}
	return v, nil
}

// dropStaleResult removes the previous render once retry has cleared the only
// reference to it; retention can no longer reach the object after that.
func (o *Orchestrator) dropStaleResult(ctx context.Context, videoID uuid.UUID, key string) {
	if key == "" {
		return
	}
	res := o.objects.Delete(ctx, key)
	switch res.Outcome {
	case storage.Deleted, storage.NotFound:
		log.Debug().Str("video_id", videoID.String()).Str("key", key).Stringer("outcome", res.Outcome).Msg("Dropped previous result")
	default:
		log.Warn().Err(res.Err).Str("video_id", videoID.String()).Str("key", key).Msg("Failed to delete previous result, object orphaned")
	}
}

func (o *Orchestrator) applyEdit(ctx context.Context, videoID, ownerID uuid.UUID, src editSource, configFor func(*models.Video) models.EditConfig) (*models.Video, error) {
	const op = "apply edit configuration"
	var advanced bool
	v, err := o.transition(ctx, videoID, ownerID, op, func(cur *models.Video) (decision, error) {
		if cur.Stage != models.StageDownload && cur.Stage != models.StageUserEditing {
			return decision{}, &StateTransitionError{VideoID: cur.ID, From: cur.Stage, Op: op}
		}

		cfg := configFor(cur)
		meta := cfg.EditingMeta.Clone()
		meta.StampOwnership(src.ownership())

		language := cfg.Language
		if language == "" {
			language = o.cfg.DefaultLanguage
		}

		deferred := cur.Stage == models.StageDownload
		advanced = !deferred
		autoEdit, batchEdit := src.flags(deferred)

		change := repository.VideoChange{
			EditingMeta: &meta,
			Language:    ptr(language),
			VoiceCode:   ptr(cfg.VoiceCode),
			AutoEdit:    ptr(autoEdit),
			BatchEdit:   ptr(batchEdit),
		}
		if !deferred {
			change.Stage = ptr(models.StageAIProcess)
			change.Status = ptr(models.StatusInProgress)
		}
		return decision{change: change}, nil
	})
	if err != nil {
		return nil, err
	}

	if advanced {
		return v, o.publishChunks(ctx, v)
	}
	return v, nil
}

func (o *Orchestrator) applyToMany(ctx context.Context, ownerID uuid.UUID, videoIDs []uuid.UUID, src editSource, configFor func(*models.Video) models.EditConfig) models.BatchResult {
	var res models.BatchResult
	for _, id := range videoIDs {
		_, err := o.applyEdit(ctx, id, ownerID, src, configFor)

		var notFound *NotFoundError
		var invalid *StateTransitionError
		var queueErr *QueueUnavailableError
		switch {
		case err == nil:
			res.Processed++
		case errors.As(err, &queueErr):
			res.Processed++
			res.Errors = append(res.Errors, fmt.Sprintf("video %s: %v", id, err))
		case errors.As(err, &notFound), errors.As(err, &invalid):
			res.Skipped = append(res.Skipped, id.String())
		default:
			log.Error().Err(err).Str("video_id", id.String()).Msg("Failed to apply edit configuration")
			res.Errors = append(res.Errors, fmt.Sprintf("video %s: %v", id, err))
		}
	}
	return res
}

func (o *Orchestrator) defaultEditConfig(v *models.Video) models.EditConfig {
	return models.EditConfig{
		EditingMeta: models.EditingMeta{
			Subtitle: &models.SubtitleStyle{
				Color:        "#FFFFFF",
				BgColor:      "#000000",
				Position:     "bottom",
				PositionX:    0,
				PositionY:    90,
				FontSize:     21,
				WidthPercent: 100,
			},
			ResizeMode: resizeFor(v.OriginalDurationMs),
		},
		Language: o.cfg.DefaultLanguage,
	}
}

// resizeFor picks landscape for sources longer than two minutes.
func resizeFor(durationMs int64) string {
	if durationMs > landscapeThresholdMs {
		return ResizeLandscape
	}
	return ResizePortrait
}

// transition reads the video, lets decide pick a change for the observed
// state, and commits it guarded on that state. A lost race re-reads and
// decides again.
func (o *Orchestrator) transition(ctx context.Context, id, ownerID uuid.UUID, op string, decide func(cur *models.Video) (decision, error)) (*models.Video, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		cur, err := o.load(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}

		d, err := decide(cur)
		if err != nil {
			return nil, err
		}
		d.guard.Stages = []models.VideoStage{cur.Stage}
		d.guard.OwnerID = ownerID

		updated, err := o.videos.Update(ctx, id, d.guard, d.change)
		if err == nil {
			o.notifier.VideoChanged(ctx, updated)
			return updated, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Debug().Str("video_id", id.String()).Str("op", op).Int("attempt", attempt).Msg("Concurrent update detected, retrying")
	}

	cur, err := o.load(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return nil, &StateTransitionError{VideoID: id, From: cur.Stage, Op: op}
}

// load fetches a video; ownerID uuid.Nil skips the ownership check.
func (o *Orchestrator) load(ctx context.Context, id, ownerID uuid.UUID) (*models.Video, error) {
	v, err := o.videos.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Message: "Video not found"}
		}
		return nil, fmt.Errorf("load video: %w", err)
	}
	if ownerID != uuid.Nil && v.OwnerID != ownerID {
		return nil, &NotFoundError{Message: "Video not found"}
	}
	return v, nil
}

// publishChunks queues one ai_process message per audio chunk in file order.
func (o *Orchestrator) publishChunks(ctx context.Context, v *models.Video) error {
	chunks, err := o.chunks.ListByVideo(ctx, v.ID)
	if err != nil {
		return o.queueFailure(v.ID, queue.AIProcess, fmt.Errorf("list audio chunks: %w", err))
	}

	var errs []error
	for _, c := range chunks {
		msg := models.AIProcessMessage{
			AudioID:   c.ID,
			VideoID:   v.ID,
			AudioKey:  c.AudioKey,
			FileIndex: c.FileIndex,
		}
		if err := o.publish(ctx, queue.AIProcess, msg); err != nil {
			errs = append(errs, fmt.Errorf("chunk %d: %w", c.FileIndex, err))
		}
	}
	if len(errs) > 0 {
		return o.queueFailure(v.ID, queue.AIProcess, errors.Join(errs...))
	}

	log.Info().Str("video_id", v.ID.String()).Int("chunks", len(chunks)).Msg("Queued AI processing")
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, name string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return o.queue.Publish(ctx, name, payload)
}

func (o *Orchestrator) queueFailure(videoID uuid.UUID, name string, err error) error {
	log.Error().Err(err).Str("video_id", videoID.String()).Str("queue", name).Msg("Work message not published, transition kept")
	return &QueueUnavailableError{Queue: name, Err: err}
}

func ptr[T any](v T) *T { return &v }
