package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"imagesearch/internal/models"
)

// Memory is an in-process Store. It enforces the same filename uniqueness
// and feedback cascade rules as the database schema.
type Memory struct {
	mu       sync.RWMutex
	images   []models.Image
	feedback []models.Feedback
	nextImg  int64
	nextFb   int64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{nextImg: 1, nextFb: 1, now: time.Now}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) ExistingFilenames(_ context.Context, names []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := make(map[string]struct{})
	for _, img := range m.images {
		if slices.Contains(names, img.Filename) {
			existing[img.Filename] = struct{}{}
		}
	}
	return existing, nil
}

func (m *Memory) InsertImages(_ context.Context, images []models.NewImage) ([]models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.images)+len(images))
	for _, img := range m.images {
		seen[img.Filename] = struct{}{}
	}
	for _, img := range images {
		if _, dup := seen[img.Filename]; dup {
			return nil, fmt.Errorf("insert %s: %w", img.Filename, ErrDuplicateFilename)
		}
		seen[img.Filename] = struct{}{}
	}

	out := make([]models.Image, 0, len(images))
	for _, img := range images {
		rec := models.Image{
			ID:          m.nextImg,
			Filename:    img.Filename,
			StoragePath: img.StoragePath,
			URL:         img.URL,
			CreatedAt:   m.now(),
		}
		if len(img.Embedding) > 0 {
			v := pgvector.NewVector(slices.Clone(img.Embedding))
			rec.Embedding = &v
		}
		m.nextImg++
		m.images = append(m.images, rec)
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) GetImage(_ context.Context, id int64) (models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.Image{}, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	return withoutEmbedding(m.images[i]), nil
}

func (m *Memory) GetImages(_ context.Context, ids []int64) (map[int64]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]models.Image, len(ids))
	for _, id := range ids {
		if i := m.indexOf(id); i >= 0 {
			out[id] = withoutEmbedding(m.images[i])
		}
	}
	return out, nil
}

func (m *Memory) ListImages(context.Context) ([]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Image, len(m.images))
	for i, img := range m.images {
		out[i] = withoutEmbedding(img)
	}
	return out, nil
}

func (m *Memory) CountImages(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images), nil
}

func (m *Memory) CountEmbedded(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, img := range m.images {
		if img.HasEmbedding() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) EmbeddedImages(context.Context) ([]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Image
	for _, img := range m.images {
		if img.HasEmbedding() {
			out = append(out, img)
		}
	}
	return out, nil
}

// NearestImages is an exact scan; the memory store has no ANN index.
func (m *Memory) NearestImages(_ context.Context, vec []float32, k int) ([]models.Match, error) {
	if k < 1 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []models.Match
	for _, img := range m.images {
		if !img.HasEmbedding() {
			continue
		}
		matches = append(matches, models.Match{
			Image: withoutEmbedding(img),
			Score: models.Cosine(vec, img.Embedding.Slice()),
		})
	}
	models.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) DeleteImage(_ context.Context, id int64) (models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return models.Image{}, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	img := m.images[i]
	m.images = slices.Delete(m.images, i, i+1)
	m.feedback = slices.DeleteFunc(m.feedback, func(fb models.Feedback) bool {
		return fb.ImageID == id
	})
	return withoutEmbedding(img), nil
}

func (m *Memory) InsertFeedback(_ context.Context, fb models.NewFeedback) (models.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(fb.ImageID) < 0 {
		return models.Feedback{}, fmt.Errorf("%w: %d", ErrImageNotFound, fb.ImageID)
	}
	rec := models.Feedback{
		ID:        m.nextFb,
		QueryText: fb.QueryText,
		ImageID:   fb.ImageID,
		IsGood:    fb.IsGood,
		Score:     fb.Score,
		CreatedAt: m.now(),
	}
	m.nextFb++
	m.feedback = append(m.feedback, rec)
	return rec, nil
}

// ListFeedback relies on append order matching creation order.
func (m *Memory) ListFeedback(_ context.Context, imageID *int64) ([]models.Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Feedback, 0, len(m.feedback))
	for _, fb := range m.feedback {
		if imageID != nil && fb.ImageID != *imageID {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// indexOf uses binary search; ids are assigned in increasing order.
func (m *Memory) indexOf(id int64) int {
	i, ok := slices.BinarySearchFunc(m.images, id, func(img models.Image, id int64) int {
		switch {
		case img.ID < id:
			return -1
		case img.ID > id:
			return 1
		}
		return 0
	})
	if !ok {
		return -1
	}
	return i
}

func withoutEmbedding(img models.Image) models.Image {
	img.Embedding = nil
	return img
}

var _ Store = (*Memory)(nil)
