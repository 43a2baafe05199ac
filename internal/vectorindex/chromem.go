package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "images"

// Chromem is an in-process index. With an empty path it lives in memory
// only; otherwise chromem persists every document under path.
type Chromem struct {
	db  *chromem.DB
	col *chromem.Collection
}

func NewChromem(path string) (*Chromem, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}

	// Vectors always arrive precomputed.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("chromem: documents must carry an embedding")
	}
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &Chromem{db: db, col: col}, nil
}

func (c *Chromem) Name() string { return "chromem" }

func (c *Chromem) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		docs[i] = chromem.Document{
			ID:        strconv.FormatInt(it.ID, 10),
			Metadata:  map[string]string{"filename": it.Filename},
			Embedding: it.Vector,
			Content:   it.Filename,
		}
	}
	if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem upsert: %w", err)
	}
	return nil
}

// Query clamps k to the collection size; chromem rejects larger requests.
func (c *Chromem) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	n := c.col.Count()
	if n == 0 || k < 1 {
		return nil, nil
	}
	k = min(k, n)

	results, err := c.col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chromem: bad document id %q: %w", r.ID, err)
		}
		hits = append(hits, Hit{ID: id, Score: float64(r.Similarity)})
	}
	return hits, nil
}

func (c *Chromem) Delete(ctx context.Context, id int64) error {
	if err := c.col.Delete(ctx, nil, nil, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("chromem delete %d: %w", id, err)
	}
	return nil
}

func (c *Chromem) Count(context.Context) (int, error) {
	return c.col.Count(), nil
}

func (c *Chromem) Close() error { return nil }

var _ Index = (*Chromem)(nil)
