package repository

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelflow-backend/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestBuildUpdate_GuardsOnStageOwnerAndPending(t *testing.T) {
	id := uuid.New()
	owner := uuid.New()

	query, args, err := buildUpdate(id,
		Guard{Stages: []models.VideoStage{models.StageDownload}, OwnerID: owner, PendingEdit: ptr(true)},
		VideoChange{Stage: ptr(models.StageAIProcess), Status: ptr(models.StatusInProgress)},
	)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "UPDATE videos SET stage = $1, status = $2, updated_at = NOW() WHERE id = $3"))
	assert.Contains(t, query, "stage = ANY($4)")
	assert.Contains(t, query, "owner_id = $5")
	assert.Contains(t, query, "(auto_edit OR batch_edit) = $6")
	assert.Contains(t, query, "RETURNING id, owner_id")

	require.Len(t, args, 6)
	assert.Equal(t, "ai_process", args[0])
	assert.Equal(t, "in_progress", args[1])
	assert.Equal(t, id, args[2])
	assert.Equal(t, []string{"download"}, args[3])
	assert.Equal(t, owner, args[4])
	assert.Equal(t, true, args[5])
}

func TestBuildUpdate_ClearsMetaAndArtifacts(t *testing.T) {
	query, args, err := buildUpdate(uuid.New(), Guard{}, VideoChange{
		ClearEditingMeta: true,
		AutoEdit:         ptr(false),
		ClearArtifacts:   true,
	})
	require.NoError(t, err)

	assert.Contains(t, query, "editing_meta = NULL")
	assert.Contains(t, query, "error_msg = NULL, audio_processed = NULL, download_link = NULL")
	assert.NotContains(t, query, "stage = ANY")
	assert.NotContains(t, query, "owner_id =")
	assert.Len(t, args, 2)
}

func TestBuildUpdate_EncodesEditingMeta(t *testing.T) {
	meta := &models.EditingMeta{
		Logo:       &models.LogoRef{AssetRef: models.AssetRef{FileKey: "logos/a.png", Ownership: models.OwnershipOwned}},
		ResizeMode: "9:16",
	}
	_, args, err := buildUpdate(uuid.New(), Guard{}, VideoChange{EditingMeta: meta})
	require.NoError(t, err)

	encoded, ok := args[0].([]byte)
	require.True(t, ok)
	assert.JSONEq(t, `{"logo":{"file_key":"logos/a.png","ownership":"owned","position_x":0,"position_y":0,"scale":0},"resize_mode":"9:16"}`, string(encoded))
}

func TestBuildUpdate_RejectsEmptyChange(t *testing.T) {
	_, _, err := buildUpdate(uuid.New(), Guard{}, VideoChange{})
	assert.Error(t, err)
}

func TestDecodePresetConfig_LegacyLanguage(t *testing.T) {
	raw := []byte(`{"subtitle":{"color":"#fff","language":"english"},"resize_mode":"16:9","logo":{"file_key":"presets/logo.png"}}`)

	cfg, err := decodePresetConfig(raw)
	require.NoError(t, err)

	assert.Equal(t, "english", cfg.Language)
	assert.Equal(t, "16:9", cfg.ResizeMode)
	require.NotNil(t, cfg.Logo)
	assert.Equal(t, "presets/logo.png", cfg.Logo.FileKey)
}

func TestDecodePresetConfig_TopLevelLanguageWins(t *testing.T) {
	cfg, err := decodePresetConfig([]byte(`{"language":"japanese","subtitle":{"language":"english"}}`))
	require.NoError(t, err)
	assert.Equal(t, "japanese", cfg.Language)
}
