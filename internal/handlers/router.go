package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imagesearch/internal/metrics"
	mw "imagesearch/internal/middleware"
	"imagesearch/internal/services"
	"imagesearch/internal/ws"
)

// Deps are the services the HTTP surface is built on. Hub, Metrics and
// Health are optional.
type Deps struct {
	Pipeline *services.Pipeline
	Searcher *services.Searcher
	Feedback *services.FeedbackRecorder
	Catalog  *services.Catalog
	Hub      *ws.Hub

	Recorder       metrics.Recorder
	Metrics        http.Handler
	Health         func(context.Context) error
	AllowedOrigins []string
	UploadTempDir  string
}

func NewRouter(d Deps) *chi.Mux {
	rec := d.Recorder
	if rec == nil {
		rec = metrics.Noop{}
	}

	images := NewImagesHandler(d.Pipeline, d.Searcher, d.Catalog)
	uploads := NewUploadHandler(d.Pipeline, d.UploadTempDir)
	feedback := NewFeedbackHandler(d.Feedback)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.CORS(d.AllowedOrigins...))
	r.Use(mw.Metrics(rec))

	r.Route("/images", func(r chi.Router) {
		r.Get("/", images.List)
		r.Get("/summary", images.Summary)
		r.Get("/search", images.Search)
		r.Post("/ingestions", images.Ingest)
		r.Post("/uploads", uploads.Upload)
		r.Get("/{id}", images.Get)
	})

	r.Route("/feedbacks", func(r chi.Router) {
		r.Get("/", feedback.List)
		r.Post("/", feedback.Create)
	})

	r.Get(services.StaticImagePath+"{filename}", StaticImageHandler(d.Catalog))

	r.Get("/healthz", healthz(d.Health))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.Hub != nil {
		r.Get("/ws", ws.Handler(d.Hub))
	}

	return r
}

func healthz(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeDetail(w, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
