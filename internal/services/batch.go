package services

import (
	"context"
	"fmt"
)

// DefaultBatchSize bounds how many images go through the model at once.
const DefaultBatchSize = 32

type chunkFunc func(ctx context.Context, paths []string) ([][]float32, error)

// embedChunks runs fn over consecutive chunks of paths and concatenates the
// results. Any chunk failure discards everything computed so far.
func embedChunks(ctx context.Context, paths []string, size int, fn chunkFunc) ([][]float32, error) {
	if size < 1 {
		size = DefaultBatchSize
	}
	out := make([][]float32, 0, len(paths))
	for start := 0; start < len(paths); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(paths))
		vecs, err := fn(ctx, paths[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d images", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Chunked wraps an Embedder so image batches are split into chunks of at
// most size paths.
func Chunked(inner Embedder, size int) Embedder {
	return &chunked{inner: inner, size: size}
}

type chunked struct {
	inner Embedder
	size  int
}

func (c *chunked) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	return embedChunks(ctx, paths, c.size, c.inner.EmbedImages)
}

func (c *chunked) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.inner.EmbedText(ctx, text)
}
