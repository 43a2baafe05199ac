package services_test

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
	"imagesearch/internal/vectorindex"
)

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	f := seededFixture(t, "cat.jpg", "dog.jpg")

	idx, err := vectorindex.NewChromem("")
	require.NoError(t, err)
	_, err = vectorindex.Sync(ctx, idx, f.store)
	require.NoError(t, err)

	c := services.NewCatalog(f.store, f.files, idx)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := c.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", got.Filename)

	_, err = c.Get(ctx, 12345)
	assert.ErrorIs(t, err, services.ErrImageNotFound)

	r, err := c.Open(ctx, "cat.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = services.NewFeedbackRecorder(f.store, nil).Record(ctx, models.NewFeedback{QueryText: "cat", ImageID: got.ID, IsGood: true})
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", deleted.Filename)

	_, err = c.Open(ctx, "cat.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	fb, err := f.store.ListFeedback(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, fb, "feedback cascades with the image")

	_, err = c.Delete(ctx, got.ID)
	assert.ErrorIs(t, err, services.ErrImageNotFound)
}
