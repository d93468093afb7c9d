package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelflow-backend/internal/models"
)

// AudioRepo reads and removes the per-video audio chunk rows ("audios").
type AudioRepo struct {
	pool *pgxpool.Pool
}

func NewAudioRepo(pool *pgxpool.Pool) *AudioRepo {
	return &AudioRepo{pool: pool}
}

// ListByVideo returns the chunks of a video ordered by file_index.
func (r *AudioRepo) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AudioChunk, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, video_id, file_index, audio_key, srt_output, created_at
		FROM audios WHERE video_id = $1 ORDER BY file_index ASC`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.AudioChunk
	for rows.Next() {
		c := &models.AudioChunk{}
		if err := rows.Scan(&c.ID, &c.VideoID, &c.FileIndex, &c.AudioKey, &c.SrtOutput, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *AudioRepo) DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM audios WHERE video_id = $1", videoID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// VoiceChunkRepo owns the speech-synthesis intermediates ("voice_chunks").
type VoiceChunkRepo struct {
	pool *pgxpool.Pool
}

func NewVoiceChunkRepo(pool *pgxpool.Pool) *VoiceChunkRepo {
	return &VoiceChunkRepo{pool: pool}
}

func (r *VoiceChunkRepo) DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM voice_chunks WHERE video_id = $1", videoID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
