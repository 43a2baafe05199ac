// Package app wires configuration into the running service: record store,
// managed storage, embedder, ranking backend and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"imagesearch/internal/config"
	"imagesearch/internal/handlers"
	"imagesearch/internal/metrics"
	"imagesearch/internal/models"
	"imagesearch/internal/ranking"
	"imagesearch/internal/services"
	"imagesearch/internal/storage"
	"imagesearch/internal/store"
	"imagesearch/internal/vectorindex"
	"imagesearch/internal/ws"
)

type App struct {
	Config   *config.Config
	Store    store.Store
	Files    storage.FileStore
	Embedder services.Embedder
	// Index mirrors embedded images for the chromem and qdrant rankers.
	Index   vectorindex.Index
	Ranker  ranking.Ranker
	Metrics *metrics.Prometheus
	Hub     *ws.Hub

	Pipeline *services.Pipeline
	Searcher *services.Searcher
	Feedback *services.FeedbackRecorder
	Catalog  *services.Catalog

	closers []func()
}

type options struct {
	embedder services.Embedder
	s3Client storage.S3Client
}

type Option func(*options)

// WithEmbedder replaces the CLIP embedder, e.g. with a test double.
func WithEmbedder(e services.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithS3Client replaces the client built from the S3 settings.
func WithS3Client(c storage.S3Client) Option {
	return func(o *options) { o.s3Client = c }
}

// New builds the application. Postgres schemas are migrated and index
// mirrors are re-synced from the store before it returns. Close releases
// everything New opened, also when New fails halfway.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Metrics: metrics.NewPrometheus()}
	if err := a.build(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	var err error
	if a.Store, err = a.openStore(ctx); err != nil {
		return err
	}
	if a.Files, err = a.openStorage(o); err != nil {
		return err
	}

	if o.embedder != nil {
		a.Embedder = services.Chunked(o.embedder, a.Config.EmbedBatchSize)
	} else {
		clip := services.NewCLIPEmbedder(services.CLIPConfig{
			LibraryPath:   a.Config.ORTLibrary,
			VisionModel:   a.Config.ModelFile(a.Config.VisionModel),
			TextModel:     a.Config.ModelFile(a.Config.TextModel),
			TokenizerPath: a.Config.ModelFile(a.Config.TokenizerFile),
			BatchSize:     a.Config.EmbedBatchSize,
			Threads:       a.Config.ORTThreads,
		}, a.Metrics)
		a.closers = append(a.closers, clip.Close)
		a.Embedder = clip
	}

	if a.Ranker, err = a.openRanker(ctx); err != nil {
		return err
	}

	a.Hub = ws.NewHub()
	go a.Hub.Run()
	a.closers = append(a.closers, a.Hub.Shutdown)

	a.Pipeline = services.NewPipeline(a.Store, a.Files, a.Embedder, a.Metrics, services.PipelineConfig{
		PublicBaseURL: a.Config.PublicBaseURL,
		MaxFiles:      a.Config.IngestMaxFiles,
	})
	if a.Index != nil {
		a.Pipeline.OnIngested(a.mirror)
	}
	a.Pipeline.OnIngested(a.Hub.ImagesIngested)

	a.Searcher = services.NewSearcher(a.Store, a.Embedder, a.Ranker, a.Metrics, a.Config.MaxTopK)
	a.Feedback = services.NewFeedbackRecorder(a.Store, a.Metrics)
	a.Catalog = services.NewCatalog(a.Store, a.Files, a.Index)
	return nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.Config.Store == config.StoreMemory {
		slog.Warn("using in-memory record store; data is lost on exit")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, a.Config.DatabaseURL, a.Config.HNSWEfSearch)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	if err := store.Migrate(ctx, pg.Pool()); err != nil {
		return nil, err
	}
	return pg, nil
}

func (a *App) openStorage(o options) (storage.FileStore, error) {
	if a.Config.Storage == config.StorageS3 {
		client := o.s3Client
		if client == nil {
			client = storage.NewS3Client(storage.S3Options{
				Region:          a.Config.S3Region,
				Endpoint:        a.Config.S3Endpoint,
				AccessKeyID:     a.Config.S3AccessKey,
				SecretAccessKey: a.Config.S3SecretKey,
				PathStyle:       a.Config.S3PathStyle,
			})
		}
		return storage.NewS3(client, a.Config.S3Bucket, a.Config.S3Prefix), nil
	}
	return storage.NewLocal(a.Config.ImagesPath())
}

func (a *App) openRanker(ctx context.Context) (ranking.Ranker, error) {
	switch a.Config.Ranker {
	case config.RankerPgvector:
		return ranking.NewDelegated(a.Store), nil
	case config.RankerExact:
		return ranking.NewExact(a.Store), nil
	}

	var err error
	switch a.Config.Ranker {
	case config.RankerChromem:
		a.Index, err = vectorindex.NewChromem(a.Config.ChromemPath)
	case config.RankerQdrant:
		a.Index, err = vectorindex.NewQdrant(ctx, vectorindex.QdrantConfig{
			Host:       a.Config.QdrantHost,
			Port:       a.Config.QdrantPort,
			APIKey:     a.Config.QdrantAPIKey,
			UseTLS:     a.Config.QdrantTLS,
			Collection: a.Config.QdrantCollection,
		})
	default:
		return nil, fmt.Errorf("unknown ranker %q", a.Config.Ranker)
	}
	if err != nil {
		return nil, err
	}
	idx := a.Index
	a.closers = append(a.closers, func() {
		if err := idx.Close(); err != nil {
			slog.Warn("failed to close vector index", "index", idx.Name(), "error", err)
		}
	})

	if _, err := vectorindex.Sync(ctx, a.Index, a.Store); err != nil {
		return nil, err
	}
	return ranking.NewIndexed(a.Index, a.Store), nil
}

// mirror keeps the vector index in step with committed images. A failed
// upsert leaves the index stale until the next boot re-sync.
func (a *App) mirror(ctx context.Context, images []models.Image) {
	items := vectorindex.ItemsFromImages(images)
	if len(items) == 0 {
		return
	}
	if err := a.Index.Upsert(ctx, items); err != nil {
		slog.ErrorContext(ctx, "failed to mirror images into index",
			"index", a.Index.Name(), "items", len(items), "error", err)
	}
}

// Warm loads the embedding model when the embedder supports it.
func (a *App) Warm(ctx context.Context) error {
	w, ok := a.Embedder.(interface{ Warm(context.Context) error })
	if !ok {
		return nil
	}
	return w.Warm(ctx)
}

func (a *App) Router() http.Handler {
	return handlers.NewRouter(handlers.Deps{
		Pipeline: a.Pipeline,
		Searcher: a.Searcher,
		Feedback: a.Feedback,
		Catalog:  a.Catalog,
		Hub:      a.Hub,
		Recorder: a.Metrics,
		Metrics:  a.Metrics.Handler(),
		Health:   a.Store.Ping,

		AllowedOrigins: a.Config.AllowedOrigins,
		UploadTempDir:  a.Config.UploadTempDir,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
