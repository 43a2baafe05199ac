// Package vectorindex mirrors image embeddings into a dedicated
// nearest-neighbour index (chromem-go in process, or Qdrant over gRPC).
//
// The relational store stays the source of truth; an index only maps
// image ids to vectors and can always be rebuilt with Sync.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"

	"imagesearch/internal/models"
)

type Item struct {
	ID       int64
	Vector   []float32
	Filename string
}

// Hit is an index result. Score is cosine similarity.
type Hit struct {
	ID    int64
	Score float64
}

type Index interface {
	Name() string
	Upsert(ctx context.Context, items []Item) error
	// Query returns at most k hits ordered by descending score.
	Query(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// Delete removes id. Missing ids are ignored.
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Source provides the embedded images an index is rebuilt from.
type Source interface {
	EmbeddedImages(ctx context.Context) ([]models.Image, error)
}

// ItemsFromImages converts embedded images; images without a vector are
// skipped.
func ItemsFromImages(images []models.Image) []Item {
	items := make([]Item, 0, len(images))
	for _, img := range images {
		if !img.HasEmbedding() {
			continue
		}
		items = append(items, Item{ID: img.ID, Vector: img.Embedding.Slice(), Filename: img.Filename})
	}
	return items
}

// Sync upserts every embedded image from src into idx.
func Sync(ctx context.Context, idx Index, src Source) (int, error) {
	images, err := src.EmbeddedImages(ctx)
	if err != nil {
		return 0, fmt.Errorf("load embedded images: %w", err)
	}
	items := ItemsFromImages(images)
	if len(items) == 0 {
		return 0, nil
	}
	if err := idx.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("sync %s index: %w", idx.Name(), err)
	}
	slog.Info("vector index synced", "index", idx.Name(), "items", len(items))
	return len(items), nil
}
