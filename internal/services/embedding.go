package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"imagesearch/internal/metrics"
	"imagesearch/internal/models"
)

// Embedder maps images and text into the same unit-length vector space.
type Embedder interface {
	// EmbedImages returns one vector per path, in input order. A single
	// undecodable file fails the whole call with *UnreadableImageError.
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type CLIPConfig struct {
	LibraryPath   string
	VisionModel   string
	TextModel     string
	TokenizerPath string
	BatchSize     int
	Threads       int
}

// CLIPEmbedder runs the two CLIP ViT-B/32 towers exported to ONNX.
//
// Models load on first use or on Warm. Loading happens once even under
// concurrent first calls; inference runs are serialized.
type CLIPEmbedder struct {
	cfg     CLIPConfig
	metrics metrics.Recorder

	loaded  atomic.Bool
	loadMu  sync.Mutex
	closed  bool
	ownsEnv bool

	runMu     sync.Mutex
	vision    *ort.DynamicAdvancedSession
	text      *ort.DynamicAdvancedSession
	tokenizer *models.Tokenizer

	closeOnce sync.Once
}

func NewCLIPEmbedder(cfg CLIPConfig, rec metrics.Recorder) *CLIPEmbedder {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &CLIPEmbedder{cfg: cfg, metrics: rec}
}

// Warm loads the models ahead of the first request.
func (e *CLIPEmbedder) Warm(ctx context.Context) error {
	start := time.Now()
	if err := e.load(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "clip model ready", "took", time.Since(start))
	return nil
}

func (e *CLIPEmbedder) load() error {
	if e.loaded.Load() {
		return nil
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.loaded.Load() {
		return nil
	}
	if e.closed {
		return errors.New("clip embedder is closed")
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(e.cfg.LibraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("init onnx: %w", err)
		}
		e.ownsEnv = true
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if e.cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(e.cfg.Threads); err != nil {
			return fmt.Errorf("set threads: %w", err)
		}
	}

	vision, err := ort.NewDynamicAdvancedSession(e.cfg.VisionModel,
		[]string{"pixel_values"}, []string{"image_embeds"}, opts)
	if err != nil {
		return fmt.Errorf("load vision model %s: %w", e.cfg.VisionModel, err)
	}
	text, err := ort.NewDynamicAdvancedSession(e.cfg.TextModel,
		[]string{"input_ids", "attention_mask"}, []string{"text_embeds"}, opts)
	if err != nil {
		vision.Destroy()
		return fmt.Errorf("load text model %s: %w", e.cfg.TextModel, err)
	}
	tokenizer, err := models.NewTokenizer(e.cfg.TokenizerPath)
	if err != nil {
		vision.Destroy()
		text.Destroy()
		return fmt.Errorf("load tokenizer: %w", err)
	}

	e.vision, e.text, e.tokenizer = vision, text, tokenizer
	e.loaded.Store(true)
	return nil
}

func (e *CLIPEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	start := time.Now()
	if err := e.load(); err != nil {
		return nil, err
	}
	vecs, err := embedChunks(ctx, paths, e.cfg.BatchSize, e.embedImageChunk)
	e.metrics.ObserveEmbedding("image", len(paths), time.Since(start), err)
	return vecs, err
}

func (e *CLIPEmbedder) embedImageChunk(ctx context.Context, paths []string) ([][]float32, error) {
	pixels, err := preprocessBatch(ctx, paths)
	if err != nil {
		return nil, err
	}
	n := int64(len(paths))

	input, err := ort.NewTensor(ort.NewShape(n, 3, clipImageSize, clipImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("create pixel tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(n, models.EmbeddingDim))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	e.runMu.Lock()
	err = e.vision.Run([]ort.Value{input}, []ort.Value{output})
	e.runMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("vision inference: %w", err)
	}

	return splitRows(output.GetData(), len(paths), models.EmbeddingDim), nil
}

func (e *CLIPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.embedText(text)
	e.metrics.ObserveEmbedding("text", 1, time.Since(start), err)
	return vec, err
}

func (e *CLIPEmbedder) embedText(text string) ([]float32, error) {
	if err := e.load(); err != nil {
		return nil, err
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	ids, mask, err := e.tokenizer.Encode(text, models.ContextLength)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	shape := ort.NewShape(1, models.ContextLength)
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("create ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("create mask tensor: %w", err)
	}
	defer maskT.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, models.EmbeddingDim))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.text.Run([]ort.Value{idsT, maskT}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("text inference: %w", err)
	}
	return splitRows(output.GetData(), 1, models.EmbeddingDim)[0], nil
}

// Close releases the sessions, and the onnxruntime environment when this
// embedder created it.
func (e *CLIPEmbedder) Close() {
	e.closeOnce.Do(func() {
		e.loadMu.Lock()
		defer e.loadMu.Unlock()
		e.closed = true
		if e.loaded.Load() {
			e.runMu.Lock()
			e.vision.Destroy()
			e.text.Destroy()
			e.tokenizer.Close()
			e.loaded.Store(false)
			e.runMu.Unlock()
		}
		if e.ownsEnv {
			ort.DestroyEnvironment()
		}
	})
}

// splitRows copies a row-major [n,dim] buffer into n unit-length vectors.
func splitRows(data []float32, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		row := make([]float32, dim)
		copy(row, data[i*dim:(i+1)*dim])
		out[i] = models.Normalize(row)
	}
	return out
}

var _ Embedder = (*CLIPEmbedder)(nil)
