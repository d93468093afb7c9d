package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelflow-backend/internal/models"
)

// PresetRepo is a read-only view of edit presets; preset CRUD lives elsewhere.
type PresetRepo struct {
	pool *pgxpool.Pool
}

func NewPresetRepo(pool *pgxpool.Pool) *PresetRepo {
	return &PresetRepo{pool: pool}
}

func (r *PresetRepo) GetOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.EditPreset, error) {
	p := &models.EditPreset{}
	var raw []byte

	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, config, is_default, created_at
		FROM edit_presets WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &raw, &p.IsDefault, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cfg, err := decodePresetConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("decode preset %s: %w", id, err)
	}
	p.Config = cfg
	return p, nil
}

// decodePresetConfig reads a stored preset config. Older presets kept the
// language under subtitle.language; that location is still honoured.
func decodePresetConfig(raw []byte) (models.EditConfig, error) {
	var cfg models.EditConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	if cfg.Language == "" {
		var legacy struct {
			Subtitle struct {
				Language string `json:"language"`
			} `json:"subtitle"`
		}
		if err := json.Unmarshal(raw, &legacy); err == nil {
			cfg.Language = legacy.Subtitle.Language
		}
	}
	return cfg, nil
}
