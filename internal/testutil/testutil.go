// Package testutil provides deterministic fixtures for tests that would
// otherwise need the CLIP model.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"golang.org/x/image/bmp"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
)

// Words sharing a dimension are treated as synonyms.
var vocabulary = map[string]int{
	"cat": 0, "cats": 0, "kitten": 0,
	"dog": 1, "dogs": 1, "puppy": 1,
	"elephant": 2, "elephants": 2,
	"bird": 3, "car": 4, "tree": 5, "ocean": 6, "sunset": 7,
}

var stopWords = map[string]struct{}{"a": {}, "an": {}, "the": {}, "of": {}, "photo": {}, "img": {}}

const hashedDims = 32

// KeywordEmbedder embeds images by the words in their filename and text by
// its words, so "a cute cat" lands closest to "cat.jpg". Image files must
// still decode, which keeps unreadable-image handling realistic.
type KeywordEmbedder struct {
	mu     sync.Mutex
	calls  int
	images int
}

func NewKeywordEmbedder() *KeywordEmbedder { return &KeywordEmbedder{} }

func (k *KeywordEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(paths))
	for i, path := range paths {
		if err := checkDecodable(path); err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out[i] = embedWords(stem)
	}

	k.mu.Lock()
	k.calls++
	k.images += len(paths)
	k.mu.Unlock()
	return out, nil
}

func (k *KeywordEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return embedWords(text), nil
}

// ImagesEmbedded reports how many image paths have been embedded so far.
func (k *KeywordEmbedder) ImagesEmbedded() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.images
}

// Calls reports how many EmbedImages calls succeeded.
func (k *KeywordEmbedder) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

func embedWords(text string) []float32 {
	v := make([]float32, models.EmbeddingDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if dim, ok := vocabulary[w]; ok {
			v[dim]++
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[16+int(h.Sum32()%hashedDims)]++
	}
	return models.Normalize(v)
}

func checkDecodable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &services.UnreadableImageError{Path: path, Err: err}
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return &services.UnreadableImageError{Path: path, Err: err}
	}
	return nil
}

// WriteImage writes a small valid image encoded according to the file
// extension (png, jpg/jpeg, gif or bmp).
func WriteImage(t testing.TB, path string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	h := fnv.New32a()
	h.Write([]byte(filepath.Base(path)))
	seed := h.Sum32()
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed>>8) + uint8(x*16), B: uint8(seed>>16) + uint8(y*16), A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, nil)
	case ".gif":
		err = gif.Encode(f, img, nil)
	case ".bmp":
		err = bmp.Encode(f, img)
	default:
		err = fmt.Errorf("no encoder for %s", path)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WriteFile writes arbitrary bytes, e.g. a corrupt image.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
