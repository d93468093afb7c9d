package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelflow-backend/internal/models"
)

type retentionFixture struct {
	collector *RetentionCollector
	videos    *memVideos
	chunks    *memChunks
	voices    *memVoices
	objects   *fakeObjects
	now       time.Time
}

func newRetentionFixture() *retentionFixture {
	f := &retentionFixture{
		videos:  newMemVideos(),
		chunks:  newMemChunks(),
		voices:  &memVoices{},
		objects: newFakeObjects(),
		now:     time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
	}
	f.collector = NewRetentionCollector(f.videos, f.chunks, f.voices, f.objects, 72*time.Hour)
	return f
}

func (f *retentionFixture) addExpired(mutate func(v *models.Video)) *models.Video {
	v := &models.Video{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		Stage:      models.StageEditProcess,
		Status:     models.StatusCompleted,
		RawCleaned: true,
		CreatedAt:  f.now.Add(-96 * time.Hour),
	}
	if mutate != nil {
		mutate(v)
	}
	f.videos.rows[v.ID] = v
	return v
}

func withLogo(autoEdit bool, ownership models.AssetOwnership) func(v *models.Video) {
	return func(v *models.Video) {
		v.AutoEdit = autoEdit
		v.DownloadLink = ptr("results/final.mp4")
		v.EditingMeta = &models.EditingMeta{
			Logo:    &models.LogoRef{AssetRef: models.AssetRef{FileKey: "logos/v/1.png", Ownership: ownership}},
			BgMusic: &models.AssetRef{FileKey: "uploads/audio/bg.mp3", Ownership: ownership},
		}
	}
}

func TestRunOnce_ZeroDueVideosTouchesNothing(t *testing.T) {
	f := newRetentionFixture()
	fresh := f.addExpired(func(v *models.Video) { v.CreatedAt = f.now.Add(-time.Hour) })

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, PassReport{}, report)
	assert.Empty(t, f.objects.attempted)
	assert.Empty(t, f.chunks.deleted)
	assert.Empty(t, f.voices.deleted)
	assert.Empty(t, f.videos.deleted)
	assert.Contains(t, f.videos.rows, fresh.ID)
}

func TestRunOnce_ManualEditAssetsAreDeleted(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(withLogo(false, ""))

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"results/final.mp4", "logos/v/1.png", "uploads/audio/bg.mp3"}, f.objects.deleted)
	assert.Equal(t, 1, report.Cleaned)
	assert.Equal(t, 3, report.ObjectsDeleted)
	assert.NotContains(t, f.videos.rows, v.ID)
}

func TestRunOnce_PresetAssetsSurvive(t *testing.T) {
	tests := []struct {
		name      string
		autoEdit  bool
		ownership models.AssetOwnership
	}{
		{"untagged with auto_edit", true, ""},
		{"tagged shared", false, models.OwnershipSharedFromPreset},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newRetentionFixture()
			v := f.addExpired(withLogo(tc.autoEdit, tc.ownership))

			_, err := f.collector.RunOnce(context.Background(), f.now)
			require.NoError(t, err)

			assert.Equal(t, []string{"results/final.mp4"}, f.objects.deleted)
			assert.NotContains(t, f.objects.attempted, "logos/v/1.png")
			assert.NotContains(t, f.objects.attempted, "uploads/audio/bg.mp3")
			assert.NotContains(t, f.videos.rows, v.ID)
		})
	}
}

func TestRunOnce_FallbackContinuesPastFailedKey(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(func(v *models.Video) {
		v.RawCleaned = false
		v.DownloadLink = ptr("results/final.mp4")
		v.Sub = models.SubArtifacts{
			VideoOriginMute: "raw/mute.mp4",
			Sample:          "raw/sample.mp4",
			FinalAudioKey:   "raw/final.mp3",
		}
	})
	f.objects.failing["raw/sample.mp4"] = true

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)

	assert.Contains(t, f.objects.deleted, "raw/mute.mp4")
	assert.Contains(t, f.objects.deleted, "raw/final.mp3")
	assert.Contains(t, f.objects.deleted, "results/final.mp4")
	assert.NotContains(t, f.objects.deleted, "raw/sample.mp4")
	assert.Equal(t, 1, report.ObjectErrors)
	assert.Equal(t, 1, report.Cleaned)
	assert.Contains(t, f.chunks.deleted, v.ID)
	assert.Contains(t, f.voices.deleted, v.ID)
	assert.NotContains(t, f.videos.rows, v.ID)
}

func TestRunOnce_FallbackIncludesChunkAudio(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(func(v *models.Video) {
		v.RawCleaned = false
		v.Sub = models.SubArtifacts{Audios: []models.SubAudio{{AudioKey: "audio/0.wav", FileIndex: 0}}}
	})
	f.chunks.add(v.ID, "audio/0.wav", "audio/1.wav")
	f.objects.missing["audio/1.wav"] = true

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)

	assert.Equal(t, []string{"audio/0.wav", "audio/1.wav"}, f.objects.attempted, "each key attempted once")
	assert.Equal(t, 1, report.ObjectsDeleted)
	assert.Equal(t, 1, report.ObjectsMissing)
}

func TestRunOnce_SkipsFallbackWhenRawCleaned(t *testing.T) {
	f := newRetentionFixture()
	f.addExpired(func(v *models.Video) {
		v.Sub = models.SubArtifacts{VideoOriginMute: "raw/mute.mp4"}
	})

	_, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Empty(t, f.objects.attempted)
}

func TestRunOnce_MissingObjectsDoNotBlockDeletion(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(withLogo(false, models.OwnershipOwned))
	f.objects.missing["results/final.mp4"] = true
	f.objects.failing["logos/v/1.png"] = true

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ObjectsMissing)
	assert.Equal(t, 1, report.ObjectErrors)
	assert.Equal(t, 1, report.ObjectsDeleted)
	assert.NotContains(t, f.videos.rows, v.ID)
}

func TestRunOnce_RecordErrorIsolatedPerVideo(t *testing.T) {
	f := newRetentionFixture()
	stuck := f.addExpired(nil)
	ok := f.addExpired(nil)
	f.videos.deleteErr[stuck.ID] = errors.New("connection reset")

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Cleaned)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, f.videos.rows, stuck.ID, "kept for the next pass")
	assert.NotContains(t, f.videos.rows, ok.ID)
}

func TestRunOnce_SecondaryRecordFailureKeepsVideo(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(nil)
	f.chunks.deleteErr = errors.New("deadlock detected")

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, f.videos.rows, v.ID)
}

func TestRunOnce_ListFailureIsReturned(t *testing.T) {
	f := newRetentionFixture()
	f.videos.listErr = errors.New("db down")

	_, err := f.collector.RunOnce(context.Background(), f.now)
	assert.Error(t, err)
}

func TestRunOnce_RerunAfterPartialFailureIsIdempotent(t *testing.T) {
	f := newRetentionFixture()
	v := f.addExpired(withLogo(false, models.OwnershipOwned))
	f.videos.deleteErr[v.ID] = errors.New("timeout")

	_, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	require.Contains(t, f.videos.rows, v.ID)

	// Objects deleted on the first pass are now missing.
	for _, k := range f.objects.deleted {
		f.objects.missing[k] = true
	}
	delete(f.videos.deleteErr, v.ID)

	report, err := f.collector.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)
	assert.Equal(t, 3, report.ObjectsMissing)
	assert.NotContains(t, f.videos.rows, v.ID)
}
