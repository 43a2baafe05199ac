// Package store persists image and feedback records.
//
// Postgres is the production backend (pgvector column plus HNSW index).
// Memory keeps the same invariants in process and backs tests and
// single-binary demos.
package store

import (
	"context"
	"errors"

	"imagesearch/internal/models"
)

var (
	// ErrDuplicateFilename reports a filename uniqueness violation.
	ErrDuplicateFilename = errors.New("duplicate filename")
	// ErrImageNotFound reports a missing image id.
	ErrImageNotFound = errors.New("image not found")
)

type Store interface {
	// ExistingFilenames returns the subset of names that already have a record.
	ExistingFilenames(ctx context.Context, names []string) (map[string]struct{}, error)
	// InsertImages inserts all images atomically and returns them with ids
	// assigned, in input order.
	InsertImages(ctx context.Context, images []models.NewImage) ([]models.Image, error)

	GetImage(ctx context.Context, id int64) (models.Image, error)
	GetImages(ctx context.Context, ids []int64) (map[int64]models.Image, error)
	ListImages(ctx context.Context) ([]models.Image, error)
	CountImages(ctx context.Context) (int, error)
	CountEmbedded(ctx context.Context) (int, error)
	// EmbeddedImages returns every image with an embedding, embedding included.
	EmbeddedImages(ctx context.Context) ([]models.Image, error)
	// NearestImages ranks embedded images by cosine similarity to vec.
	NearestImages(ctx context.Context, vec []float32, k int) ([]models.Match, error)
	// DeleteImage removes the image and, by cascade, its feedback.
	DeleteImage(ctx context.Context, id int64) (models.Image, error)

	InsertFeedback(ctx context.Context, fb models.NewFeedback) (models.Feedback, error)
	// ListFeedback returns feedback ordered by creation time, optionally
	// restricted to one image.
	ListFeedback(ctx context.Context, imageID *int64) ([]models.Feedback, error)

	Ping(ctx context.Context) error
	Close()
}
