package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
)

type ImageSummary struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type SearchResult struct {
	ID       int64   `json:"id"`
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type SummaryResponse struct {
	Total int `json:"total"`
}

func summaries(images []models.Image) []ImageSummary {
	out := make([]ImageSummary, len(images))
	for i, img := range images {
		out[i] = ImageSummary{ID: img.ID, Filename: img.Filename, URL: img.URL}
	}
	return out
}

type ImagesHandler struct {
	pipeline *services.Pipeline
	searcher *services.Searcher
	catalog  *services.Catalog
}

func NewImagesHandler(p *services.Pipeline, s *services.Searcher, c *services.Catalog) *ImagesHandler {
	return &ImagesHandler{pipeline: p, searcher: s, catalog: c}
}

// Ingest handles POST /images/ingestions with form field "folder".
func (h *ImagesHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	folder := strings.TrimSpace(r.FormValue("folder"))
	if folder == "" {
		writeDetail(w, http.StatusBadRequest, "folder is required")
		return
	}

	added, err := h.pipeline.IngestFolder(r.Context(), folder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries(added))
}

// Search handles GET /images/search?query=&top_k=.
func (h *ImagesHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	topK := 1
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		topK = n
	}

	matches, err := h.searcher.Search(r.Context(), query, topK)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := SearchResponse{Query: query, Results: make([]SearchResult, len(matches))}
	for i, m := range matches {
		resp.Results[i] = SearchResult{
			ID:       m.Image.ID,
			Filename: m.Image.Filename,
			URL:      m.Image.URL,
			Score:    m.Score,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ImagesHandler) Summary(w http.ResponseWriter, r *http.Request) {
	n, err := h.catalog.Count(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Total: n})
}

func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	images, err := h.catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries(images))
}

func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid image id")
		return
	}
	img, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImageSummary{ID: img.ID, Filename: img.Filename, URL: img.URL})
}
