package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelflow-backend/internal/models"
	"reelflow-backend/internal/repository"
	"reelflow-backend/internal/storage"
)

// memVideos is an in-memory video store whose Update honours the guard the
// same way the SQL WHERE clause does.
type memVideos struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.Video
	updates int
	creates int

	// beforeUpdate runs inside Update before the guard is checked, letting a
	// test simulate a concurrent writer.
	beforeUpdate func(v *models.Video)
	updateErr    error
	listErr      error
	deleteErr    map[uuid.UUID]error
	deleted      []uuid.UUID
}

func newMemVideos(videos ...*models.Video) *memVideos {
	m := &memVideos{rows: map[uuid.UUID]*models.Video{}, deleteErr: map[uuid.UUID]error{}}
	for _, v := range videos {
		m.rows[v.ID] = v
	}
	return m
}

func (m *memVideos) Create(ctx context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	m.rows[v.ID] = &cp
	m.creates++
	return nil
}

func (m *memVideos) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memVideos) get(id uuid.UUID) *models.Video {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.rows[id]
	return &cp
}

func (m *memVideos) List(ctx context.Context, ownerID uuid.UUID, f models.VideoFilter) ([]*models.Video, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Video
	for _, v := range m.rows {
		if v.OwnerID == ownerID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memVideos) Update(ctx context.Context, id uuid.UUID, guard repository.Guard, c repository.VideoChange) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}

	v, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.beforeUpdate != nil {
		hook := m.beforeUpdate
		m.beforeUpdate = nil
		hook(v)
	}
	if !guardMatches(v, guard) {
		return nil, repository.ErrNotFound
	}

	applyChange(v, c)
	m.updates++
	cp := *v
	return &cp, nil
}

func (m *memVideos) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Video
	for _, v := range m.rows {
		if v.CreatedAt.Before(cutoff) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVideos) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func guardMatches(v *models.Video, g repository.Guard) bool {
	if len(g.Stages) > 0 {
		found := false
		for _, s := range g.Stages {
			if v.Stage == s {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if g.OwnerID != uuid.Nil && v.OwnerID != g.OwnerID {
		return false
	}
	if g.PendingEdit != nil && v.HasPendingEdit() != *g.PendingEdit {
		return false
	}
	return true
}

func applyChange(v *models.Video, c repository.VideoChange) {
	if c.Stage != nil {
		v.Stage = *c.Stage
	}
	if c.Status != nil {
		v.Status = *c.Status
	}
	if c.ClearEditingMeta {
		v.EditingMeta = nil
	} else if c.EditingMeta != nil {
		meta := c.EditingMeta.Clone()
		v.EditingMeta = &meta
	}
	if c.AutoEdit != nil {
		v.AutoEdit = *c.AutoEdit
	}
	if c.BatchEdit != nil {
		v.BatchEdit = *c.BatchEdit
	}
	if c.Language != nil {
		v.Language = *c.Language
	}
	if c.VoiceCode != nil {
		v.VoiceCode = *c.VoiceCode
	}
	if c.Title != nil {
		v.Title = *c.Title
	}
	if c.RawCleaned != nil {
		v.RawCleaned = *c.RawCleaned
	}
	if c.ClearArtifacts {
		v.ErrorMsg = nil
		v.AudioProcessed = nil
		v.DownloadLink = nil
	}
	if c.AudioProcessed != nil {
		v.AudioProcessed = ptr(*c.AudioProcessed)
	}
	if c.DownloadLink != nil {
		v.DownloadLink = ptr(*c.DownloadLink)
	}
	if c.ErrorMsg != nil {
		v.ErrorMsg = ptr(*c.ErrorMsg)
	}
}

type memChunks struct {
	mu        sync.Mutex
	byVideo   map[uuid.UUID][]*models.AudioChunk
	listErr   error
	deleteErr error
	deleted   []uuid.UUID
}

func newMemChunks() *memChunks {
	return &memChunks{byVideo: map[uuid.UUID][]*models.AudioChunk{}}
}

func (m *memChunks) add(videoID uuid.UUID, keys ...string) {
	for i, k := range keys {
		m.byVideo[videoID] = append(m.byVideo[videoID], &models.AudioChunk{
			ID: uuid.New(), VideoID: videoID, FileIndex: i, AudioKey: k,
		})
	}
}

func (m *memChunks) ListByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.AudioChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.byVideo[videoID], nil
}

func (m *memChunks) DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	n := int64(len(m.byVideo[videoID]))
	delete(m.byVideo, videoID)
	m.deleted = append(m.deleted, videoID)
	return n, nil
}

type memVoices struct {
	deleted []uuid.UUID
}

func (m *memVoices) DeleteByVideo(ctx context.Context, videoID uuid.UUID) (int64, error) {
	m.deleted = append(m.deleted, videoID)
	return 0, nil
}

type memPresets struct {
	presets map[uuid.UUID]*models.EditPreset
}

func (m *memPresets) GetOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.EditPreset, error) {
	p, ok := m.presets[id]
	if !ok || p.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

type published struct {
	queue   string
	payload any
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (q *fakeQueue) Publish(ctx context.Context, name string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, published{queue: name, payload: payload})
	return nil
}

func (q *fakeQueue) on(name string) []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []any
	for _, p := range q.sent {
		if p.queue == name {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeObjects struct {
	mu         sync.Mutex
	puts       map[string]string // key -> content type
	putErr     error
	presignErr error
	lastName   string
	bodies     map[string]string
	getErr     error

	// Delete behaviour
	missing   map[string]bool
	failing   map[string]bool
	deleted   []string
	attempted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{puts: map[string]string{}, missing: map[string]bool{}, failing: map[string]bool{}}
}

func (f *fakeObjects) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts[key] = contentType
	return nil
}

func (f *fakeObjects) Presign(ctx context.Context, verb storage.Verb, key string, ttl time.Duration, filename string) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.lastName = filename
	return "https://signed.example.com/" + string(verb) + "/" + key, nil
}

func (f *fakeObjects) GetStream(ctx context.Context, key string) (*storage.Object, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.bodies[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.Object{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentType:   storage.ContentTypeFor(key),
		ContentLength: int64(len(body)),
	}, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) storage.DeleteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempted = append(f.attempted, key)
	switch {
	case f.failing[key]:
		return storage.DeleteResult{Key: key, Outcome: storage.Failed, Err: errors.New("connection refused")}
	case f.missing[key]:
		return storage.DeleteResult{Key: key, Outcome: storage.NotFound}
	}
	f.deleted = append(f.deleted, key)
	return storage.DeleteResult{Key: key, Outcome: storage.Deleted}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*models.Video
}

func (n *fakeNotifier) VideoChanged(ctx context.Context, v *models.Video) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, v)
}
