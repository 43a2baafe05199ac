package services

import (
	"context"
	"io"
	"log/slog"

	"imagesearch/internal/models"
	"imagesearch/internal/storage"
	"imagesearch/internal/store"
	"imagesearch/internal/vectorindex"
)

// Catalog serves read access to image records and their bytes, plus the
// administrative delete.
type Catalog struct {
	store store.Store
	files storage.FileStore
	index vectorindex.Index
}

// NewCatalog builds a catalog; idx may be nil when no index mirror is used.
func NewCatalog(s store.Store, files storage.FileStore, idx vectorindex.Index) *Catalog {
	return &Catalog{store: s, files: files, index: idx}
}

func (c *Catalog) List(ctx context.Context) ([]models.Image, error) {
	return c.store.ListImages(ctx)
}

func (c *Catalog) Count(ctx context.Context) (int, error) {
	return c.store.CountImages(ctx)
}

func (c *Catalog) Get(ctx context.Context, id int64) (models.Image, error) {
	return c.store.GetImage(ctx, id)
}

// Open returns the stored bytes of a managed image.
func (c *Catalog) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	return c.files.Open(ctx, filename)
}

// Delete removes the record and its feedback, then best-effort removes the
// index entry and the stored bytes.
func (c *Catalog) Delete(ctx context.Context, id int64) (models.Image, error) {
	img, err := c.store.DeleteImage(ctx, id)
	if err != nil {
		return models.Image{}, err
	}
	if c.index != nil {
		if err := c.index.Delete(ctx, id); err != nil {
			slog.WarnContext(ctx, "failed to remove index entry", "id", id, "error", err)
		}
	}
	if err := c.files.Delete(ctx, img.Filename); err != nil {
		slog.WarnContext(ctx, "failed to remove image bytes", "filename", img.Filename, "error", err)
	}
	slog.InfoContext(ctx, "image deleted", "id", id, "filename", img.Filename)
	return img, nil
}
