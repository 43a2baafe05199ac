// Package ranking turns a query vector into ordered image matches.
//
// Exact scans every stored embedding, Delegated hands the query to the
// store's ANN index, and Indexed asks a dedicated vector index. All three
// return matches sorted by descending cosine similarity with ties broken
// by ascending image id. Approximate backends may differ from Exact in
// scores and in the order of near ties.
package ranking

import (
	"context"
	"fmt"

	"imagesearch/internal/models"
	"imagesearch/internal/store"
	"imagesearch/internal/vectorindex"
)

type Ranker interface {
	Name() string
	Rank(ctx context.Context, query []float32, k int) ([]models.Match, error)
}

// Exact is a linear cosine scan over every embedded image.
type Exact struct {
	store store.Store
}

func NewExact(s store.Store) *Exact { return &Exact{store: s} }

func (e *Exact) Name() string { return "exact" }

func (e *Exact) Rank(ctx context.Context, query []float32, k int) ([]models.Match, error) {
	images, err := e.store.EmbeddedImages(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]models.Match, 0, len(images))
	for _, img := range images {
		score := models.Cosine(query, img.Embedding.Slice())
		img.Embedding = nil
		matches = append(matches, models.Match{Image: img, Score: score})
	}
	models.SortMatches(matches)
	return truncate(matches, k), nil
}

// Delegated uses the store's own nearest-neighbour query (pgvector HNSW).
type Delegated struct {
	store store.Store
}

func NewDelegated(s store.Store) *Delegated { return &Delegated{store: s} }

func (d *Delegated) Name() string { return "pgvector" }

func (d *Delegated) Rank(ctx context.Context, query []float32, k int) ([]models.Match, error) {
	matches, err := d.store.NearestImages(ctx, query, k)
	if err != nil {
		return nil, err
	}
	models.SortMatches(matches)
	return truncate(matches, k), nil
}

// Indexed queries a vector index and joins the hits back to image records.
// Hits whose record has been deleted since indexing are dropped.
type Indexed struct {
	index vectorindex.Index
	store store.Store
}

func NewIndexed(idx vectorindex.Index, s store.Store) *Indexed {
	return &Indexed{index: idx, store: s}
}

func (i *Indexed) Name() string { return i.index.Name() }

func (i *Indexed) Rank(ctx context.Context, query []float32, k int) ([]models.Match, error) {
	hits, err := i.index.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	for n, h := range hits {
		ids[n] = h.ID
	}
	images, err := i.store.GetImages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ranked images: %w", err)
	}

	matches := make([]models.Match, 0, len(hits))
	for _, h := range hits {
		img, ok := images[h.ID]
		if !ok {
			continue
		}
		matches = append(matches, models.Match{Image: img, Score: h.Score})
	}
	models.SortMatches(matches)
	return truncate(matches, k), nil
}

func truncate(ms []models.Match, k int) []models.Match {
	if k >= 0 && len(ms) > k {
		return ms[:k]
	}
	return ms
}

var (
	_ Ranker = (*Exact)(nil)
	_ Ranker = (*Delegated)(nil)
	_ Ranker = (*Indexed)(nil)
)
