package services_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
	"imagesearch/internal/testutil"
)

// clipEmbedder needs exported CLIP towers in TEST_CLIP_MODEL_DIR and the
// onnxruntime library in TEST_ORT_LIBRARY.
func clipEmbedder(t *testing.T, batch int) *services.CLIPEmbedder {
	t.Helper()
	dir := os.Getenv("TEST_CLIP_MODEL_DIR")
	lib := os.Getenv("TEST_ORT_LIBRARY")
	if dir == "" || lib == "" {
		t.Skip("TEST_CLIP_MODEL_DIR or TEST_ORT_LIBRARY not set")
	}
	return services.NewCLIPEmbedder(services.CLIPConfig{
		LibraryPath:   lib,
		VisionModel:   filepath.Join(dir, "clip_vision.onnx"),
		TextModel:     filepath.Join(dir, "clip_text.onnx"),
		TokenizerPath: filepath.Join(dir, "tokenizer.json"),
		BatchSize:     batch,
	}, nil)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestCLIPEmbedder(t *testing.T) {
	ctx := context.Background()
	e := clipEmbedder(t, 1)
	defer e.Close()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Warm(ctx))
		}()
	}
	wg.Wait()

	text, err := e.EmbedText(ctx, "a photo of a cat")
	require.NoError(t, err)
	require.Len(t, text, models.EmbeddingDim)
	assert.InDelta(t, 1.0, norm(text), 1e-4)

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.png", "b.jpg", "c.gif"} {
		p := filepath.Join(dir, name)
		testutil.WriteImage(t, p)
		paths = append(paths, p)
	}

	single, err := e.EmbedImages(ctx, paths)
	require.NoError(t, err)

	batched := clipEmbedder(t, 3)
	defer batched.Close()
	together, err := batched.EmbedImages(ctx, paths)
	require.NoError(t, err)

	require.Len(t, single, 3)
	for i := range paths {
		assert.InDelta(t, 1.0, norm(single[i]), 1e-4)
		assert.InDeltaSlice(t, single[i], together[i], 1e-3)
	}

	bad := filepath.Join(dir, "bad.png")
	testutil.WriteFile(t, bad, "nope")
	_, err = e.EmbedImages(ctx, append(paths, bad))
	assert.ErrorIs(t, err, services.ErrUnreadableImage)
}

func TestCLIPEmbedder_LoadFailure(t *testing.T) {
	lib := os.Getenv("TEST_ORT_LIBRARY")
	if lib == "" {
		t.Skip("TEST_ORT_LIBRARY not set")
	}
	e := services.NewCLIPEmbedder(services.CLIPConfig{
		LibraryPath: lib,
		VisionModel: filepath.Join(t.TempDir(), "missing.onnx"),
	}, nil)
	defer e.Close()

	_, err := e.EmbedText(context.Background(), "cat")
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrUnreadableImage)
}
