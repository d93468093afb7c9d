package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelflow-backend/internal/models"
)

// ErrNotFound is returned when no row matched the id (and guard, for updates).
var ErrNotFound = errors.New("record not found")

type VideoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *VideoRepo {
	return &VideoRepo{pool: pool}
}

const videoColumns = `id, owner_id, url, title, status, stage, error_msg, download_link, s3_key,
	audio_processed, sub, editing_meta, auto_edit, batch_edit, language, voice_code,
	raw_cleaned, original_duration_ms, created_at, updated_at`

// Guard restricts a conditional update to rows still in the observed state.
type Guard struct {
	Stages      []models.VideoStage
	OwnerID     uuid.UUID // uuid.Nil matches any owner
	PendingEdit *bool     // matches (auto_edit OR batch_edit) when set
}

// VideoChange lists the columns a transition writes. Nil fields are left alone.
type VideoChange struct {
	Stage            *models.VideoStage
	Status           *models.VideoStatus
	EditingMeta      *models.EditingMeta
	ClearEditingMeta bool
	AutoEdit         *bool
	BatchEdit        *bool
	Language         *string
	VoiceCode        *string
	AudioProcessed   *string
	DownloadLink     *string
	ErrorMsg         *string
	Title            *string
	RawCleaned       *bool
	ClearArtifacts   bool // error_msg, audio_processed and download_link set to NULL
}

func (r *VideoRepo) Create(ctx context.Context, v *models.Video) error {
	v.ID = uuid.New()

	subBytes, err := json.Marshal(v.Sub)
	if err != nil {
		return fmt.Errorf("encode sub: %w", err)
	}

	query := `INSERT INTO videos (id, owner_id, url, title, status, stage, sub, language, voice_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		v.ID, v.OwnerID, v.URL, v.Title, string(v.Status), string(v.Stage), subBytes, v.Language, v.VoiceCode,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *VideoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return scanVideo(r.pool.QueryRow(ctx, query, id))
}

func (r *VideoRepo) List(ctx context.Context, ownerID uuid.UUID, f models.VideoFilter) ([]*models.Video, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}

	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Stage != "" {
		args = append(args, string(f.Stage))
		where = append(where, fmt.Sprintf("stage = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("title ILIKE $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM videos WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.Limit
	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM videos WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		videoColumns, clause, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		videos = append(videos, v)
	}
	return videos, total, rows.Err()
}

// Update applies change in a single statement guarded by the current
// stage/owner/pending state. It returns ErrNotFound when the guard did not match.
func (r *VideoRepo) Update(ctx context.Context, id uuid.UUID, guard Guard, change VideoChange) (*models.Video, error) {
	query, args, err := buildUpdate(id, guard, change)
	if err != nil {
		return nil, err
	}
	return scanVideo(r.pool.QueryRow(ctx, query, args...))
}

func (r *VideoRepo) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Video, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE created_at < $1 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *VideoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildUpdate(id uuid.UUID, guard Guard, c VideoChange) (string, []any, error) {
	var sets []string
	args := []any{}
	set := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if c.Stage != nil {
		set("stage", string(*c.Stage))
	}
	if c.Status != nil {
		set("status", string(*c.Status))
	}
	switch {
	case c.ClearEditingMeta:
		sets = append(sets, "editing_meta = NULL")
	case c.EditingMeta != nil:
		meta, err := json.Marshal(c.EditingMeta)
		if err != nil {
			return "", nil, fmt.Errorf("encode editing meta: %w", err)
		}
		set("editing_meta", meta)
	}
	if c.AutoEdit != nil {
		set("auto_edit", *c.AutoEdit)
	}
	if c.BatchEdit != nil {
		set("batch_edit", *c.BatchEdit)
	}
	if c.Language != nil {
		set("language", *c.Language)
	}
	if c.VoiceCode != nil {
		set("voice_code", *c.VoiceCode)
	}
	if c.Title != nil {
		set("title", *c.Title)
	}
	if c.RawCleaned != nil {
		set("raw_cleaned", *c.RawCleaned)
	}
	if c.ClearArtifacts {
		sets = append(sets, "error_msg = NULL", "audio_processed = NULL", "download_link = NULL")
	}
	if c.AudioProcessed != nil {
		set("audio_processed", *c.AudioProcessed)
	}
	if c.DownloadLink != nil {
		set("download_link", *c.DownloadLink)
	}
	if c.ErrorMsg != nil {
		set("error_msg", *c.ErrorMsg)
	}
	if len(sets) == 0 {
		return "", nil, errors.New("empty video change")
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	where := []string{fmt.Sprintf("id = $%d", len(args))}
	if len(guard.Stages) > 0 {
		stages := make([]string, len(guard.Stages))
		for i, s := range guard.Stages {
			stages[i] = string(s)
		}
		args = append(args, stages)
		where = append(where, fmt.Sprintf("stage = ANY($%d)", len(args)))
	}
	if guard.OwnerID != uuid.Nil {
		args = append(args, guard.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if guard.PendingEdit != nil {
		args = append(args, *guard.PendingEdit)
		where = append(where, fmt.Sprintf("(auto_edit OR batch_edit) = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE videos SET %s WHERE %s RETURNING %s",
		strings.Join(sets, ", "), strings.Join(where, " AND "), videoColumns)
	return query, args, nil
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	v := &models.Video{}
	var status, stage string
	var subBytes, metaBytes []byte

	err := row.Scan(
		&v.ID, &v.OwnerID, &v.URL, &v.Title, &status, &stage, &v.ErrorMsg, &v.DownloadLink, &v.S3Key,
		&v.AudioProcessed, &subBytes, &metaBytes, &v.AutoEdit, &v.BatchEdit, &v.Language, &v.VoiceCode,
		&v.RawCleaned, &v.OriginalDurationMs, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	v.Status = models.VideoStatus(status)
	v.Stage = models.VideoStage(stage)
	if len(subBytes) > 0 {
		if err := json.Unmarshal(subBytes, &v.Sub); err != nil {
			return nil, fmt.Errorf("decode sub for video %s: %w", v.ID, err)
		}
	}
	if len(metaBytes) > 0 {
		v.EditingMeta = &models.EditingMeta{}
		if err := json.Unmarshal(metaBytes, v.EditingMeta); err != nil {
			return nil, fmt.Errorf("decode editing meta for video %s: %w", v.ID, err)
		}
	}
	return v, nil
}
