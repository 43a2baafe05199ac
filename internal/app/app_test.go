package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesearch/internal/config"
	"imagesearch/internal/storage"
	"imagesearch/internal/testutil"
)

func testConfig(t *testing.T, ranker string) *config.Config {
	t.Helper()
	return &config.Config{
		Store:          config.StoreMemory,
		Storage:        config.StorageLocal,
		DataDir:        t.TempDir(),
		Ranker:         ranker,
		EmbedBatchSize: 32,
		MaxTopK:        100,
	}
}

func sourceDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		testutil.WriteImage(t, filepath.Join(dir, name))
	}
	return dir
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, config.RankerPgvector)
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "requires the postgres store")
}

func TestNew_ExactRanker(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.RankerExact)
	a, err := New(ctx, cfg, WithEmbedder(testutil.NewKeywordEmbedder()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Index)
	assert.Equal(t, "exact", a.Searcher.RankerName())
	assert.IsType(t, &storage.Local{}, a.Files)
	assert.NoError(t, a.Warm(ctx))

	added, err := a.Pipeline.IngestFolder(ctx, sourceDir(t, "cat.jpg", "dog.jpg"))
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "images", "cat.jpg"))

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/images/search?query=kitten")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Results []struct {
			Filename string `json:"filename"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "cat.jpg", body.Results[0].Filename)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestNew_ChromemMirrorsIngestion(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, config.RankerChromem), WithEmbedder(testutil.NewKeywordEmbedder()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Index)
	assert.Equal(t, "chromem", a.Searcher.RankerName())

	_, err = a.Pipeline.IngestFolder(ctx, sourceDir(t, "cat.jpg", "elephant.jpg", "dog.png"))
	require.NoError(t, err)

	n, err := a.Index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := a.Searcher.Search(ctx, "a cute cat", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "cat.jpg", matches[0].Image.Filename)

	_, err = a.Catalog.Delete(ctx, matches[0].Image.ID)
	require.NoError(t, err)
	n, err = a.Index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNew_S3Storage(t *testing.T) {
	cfg := testConfig(t, config.RankerExact)
	cfg.Storage = config.StorageS3
	cfg.S3Bucket = "photos"
	cfg.S3Prefix = "images"

	a, err := New(context.Background(), cfg, WithEmbedder(testutil.NewKeywordEmbedder()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.IsType(t, &storage.S3Store{}, a.Files)
	assert.Equal(t, "s3://photos/images/cat.jpg", a.Files.Location("cat.jpg"))
}

func TestRouter_UsesConfiguredOriginsAndUploadDir(t *testing.T) {
	cfg := testConfig(t, config.RankerExact)
	cfg.AllowedOrigins = []string{"https://ui.example"}
	cfg.UploadTempDir = filepath.Join(t.TempDir(), "missing")

	a, err := New(context.Background(), cfg, WithEmbedder(testutil.NewKeywordEmbedder()))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	router := a.Router()

	for origin, want := range map[string]string{
		"https://ui.example":   "https://ui.example",
		"https://evil.example": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}

	// Staging under a directory that does not exist fails, which shows the
	// configured directory is the one in use.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("images", "cat.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("irrelevant"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/images/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
