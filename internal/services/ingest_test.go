package services_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
	"imagesearch/internal/storage"
	"imagesearch/internal/store"
	"imagesearch/internal/testutil"
)

type fixture struct {
	store    *store.Memory
	files    *storage.Local
	embedder *testutil.KeywordEmbedder
	pipeline *services.Pipeline
}

func newFixture(t *testing.T, cfg services.PipelineConfig) *fixture {
	t.Helper()
	files, err := storage.NewLocal(filepath.Join(t.TempDir(), "managed"))
	require.NoError(t, err)
	f := &fixture{
		store:    store.NewMemory(),
		files:    files,
		embedder: testutil.NewKeywordEmbedder(),
	}
	f.pipeline = services.NewPipeline(f.store, f.files, f.embedder, nil, cfg)
	return f
}

func sourceDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		testutil.WriteImage(t, filepath.Join(dir, name))
	}
	return dir
}

func filenames(images []models.Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Filename
	}
	return out
}

func TestIngestFolder_SortedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})

	dir := sourceDir(t, "b.png", "a.jpg", "c.gif", "upper.JPG")
	testutil.WriteFile(t, filepath.Join(dir, "notes.txt"), "not an image")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	first, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.png", "c.gif"}, filenames(first))
	for _, img := range first {
		assert.NotZero(t, img.ID)
		assert.True(t, img.HasEmbedding())
		assert.Equal(t, "/static/image/"+img.Filename, img.URL)
		assert.Equal(t, f.files.Location(img.Filename), img.StoragePath)
		ok, err := f.files.Exists(ctx, img.Filename)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 3, f.embedder.ImagesEmbedded())

	second, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.NotNil(t, second)
	assert.Equal(t, 3, f.embedder.ImagesEmbedded(), "unchanged files are not re-embedded")

	all, err := f.store.ListImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, filenames(first), filenames(all))
}

func TestIngestFolder_OnlyNewFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})
	dir := sourceDir(t, "cat.jpg")

	_, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)

	testutil.WriteImage(t, filepath.Join(dir, "dog.jpg"))
	added, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog.jpg"}, filenames(added))
	assert.Equal(t, 2, f.embedder.ImagesEmbedded())
}

func TestIngestFolder_SourceErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})

	_, err := f.pipeline.IngestFolder(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, services.ErrSourceNotFound)

	file := filepath.Join(t.TempDir(), "file.png")
	testutil.WriteImage(t, file)
	_, err = f.pipeline.IngestFolder(ctx, file)
	assert.ErrorIs(t, err, services.ErrSourceNotFound)

	_, err = f.pipeline.IngestFolder(ctx, t.TempDir())
	assert.ErrorIs(t, err, services.ErrNoImagesFound)

	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "readme.md"), "# hi")
	_, err = f.pipeline.IngestFolder(ctx, dir)
	assert.ErrorIs(t, err, services.ErrNoImagesFound)
}

func TestIngestFolder_SkipsUnstorableNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})
	dir := sourceDir(t, "cat.jpg", `dog\puppy.png`)

	added, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.jpg"}, filenames(added))

	only := sourceDir(t, `a\b.png`)
	_, err = f.pipeline.IngestFolder(ctx, only)
	assert.ErrorIs(t, err, services.ErrNoImagesFound)
}

func TestIngestFolder_UnreadableImageAbortsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})
	dir := sourceDir(t, "a.png", "c.png")
	testutil.WriteFile(t, filepath.Join(dir, "b.png"), "definitely not a png")

	_, err := f.pipeline.IngestFolder(ctx, dir)
	require.ErrorIs(t, err, services.ErrUnreadableImage)

	var unreadable *services.UnreadableImageError
	require.True(t, errors.As(err, &unreadable))
	assert.Equal(t, filepath.Join(dir, "b.png"), unreadable.Path)

	n, err := f.store.CountImages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing committed")

	entries, err := os.ReadDir(f.files.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "copied bytes are removed")
}

func TestIngestFolder_ManagedDirectoryIsNotCopied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})
	testutil.WriteImage(t, filepath.Join(f.files.Root(), "cat.png"))

	added, err := f.pipeline.IngestFolder(ctx, f.files.Root())
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "cat.png", added[0].Filename)

	ok, err := f.files.Exists(ctx, "cat.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIngestFolder_MaxFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{MaxFiles: 2})
	dir := sourceDir(t, "a.png", "b.png", "c.png")

	added, err := f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, filenames(added))

	added, err = f.pipeline.IngestFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.png"}, filenames(added))
}

func TestIngestFolder_Hooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})

	var mu sync.Mutex
	var seen []string
	f.pipeline.OnIngested(func(_ context.Context, images []models.Image) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, filenames(images)...)
	})

	_, err := f.pipeline.IngestFolder(ctx, sourceDir(t, "x.png", "y.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x.png", "y.png"}, seen)

	_, err = f.pipeline.IngestFolder(ctx, sourceDir(t, "z.png"))
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

// racyStore hides existing filenames, as a concurrent ingestion would
// between the pre-check and the insert.
type racyStore struct {
	*store.Memory
}

func (racyStore) ExistingFilenames(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func TestIngestFolder_ConcurrentDuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	mem := store.NewMemory()
	p := services.NewPipeline(racyStore{mem}, files, testutil.NewKeywordEmbedder(), nil, services.PipelineConfig{})

	dir := sourceDir(t, "cat.png")
	_, err = p.IngestFolder(ctx, dir)
	require.NoError(t, err)

	_, err = p.IngestFolder(ctx, dir)
	require.ErrorIs(t, err, services.ErrDuplicateFilename)

	ok, err := files.Exists(ctx, "cat.png")
	require.NoError(t, err)
	assert.True(t, ok, "bytes owned by the committed record survive")

	n, err := mem.CountImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipeline_ImageURL(t *testing.T) {
	f := newFixture(t, services.PipelineConfig{PublicBaseURL: "http://img.local/"})
	assert.Equal(t, "http://img.local/static/image/my%20cat.png", f.pipeline.ImageURL("my cat.png"))

	rel := newFixture(t, services.PipelineConfig{})
	assert.Equal(t, "/static/image/a.png", rel.pipeline.ImageURL("a.png"))
}

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.PipelineConfig{})
	dir := sourceDir(t, "one.png", "two.jpg")

	_, err := f.pipeline.IngestFiles(ctx, []services.SourceFile{{Name: "../one.png", Path: filepath.Join(dir, "one.png")}})
	assert.ErrorIs(t, err, services.ErrInvalidArgument)

	_, err = f.pipeline.IngestFiles(ctx, []services.SourceFile{{Name: "one.tiff", Path: filepath.Join(dir, "one.png")}})
	assert.ErrorIs(t, err, services.ErrInvalidArgument)

	_, err = f.pipeline.IngestFiles(ctx, nil)
	assert.ErrorIs(t, err, services.ErrNoImagesFound)

	added, err := f.pipeline.IngestFiles(ctx, []services.SourceFile{
		{Name: "two.jpg", Path: filepath.Join(dir, "two.jpg")},
		{Name: "one.png", Path: filepath.Join(dir, "one.png")},
		{Name: "two.jpg", Path: filepath.Join(dir, "one.png")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"two.jpg", "one.png"}, filenames(added))
}
