package models

import (
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the width of CLIP ViT-B/32 image and text embeddings.
const EmbeddingDim = 512

type Image struct {
	ID          int64            `db:"id" json:"id"`
	Filename    string           `db:"filename" json:"filename"`
	StoragePath string           `db:"storage_path" json:"-"`
	URL         string           `db:"url" json:"url"`
	Embedding   *pgvector.Vector `db:"embedding" json:"-"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// HasEmbedding reports whether the image has been embedded.
func (i Image) HasEmbedding() bool {
	return i.Embedding != nil && len(i.Embedding.Slice()) > 0
}

// NewImage is an image about to be inserted by the ingestion pipeline.
type NewImage struct {
	Filename    string
	StoragePath string
	URL         string
	Embedding   []float32
}

// Match is one ranked search hit.
type Match struct {
	Image Image
	Score float64
}
