package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"imagesearch/internal/models"
	"imagesearch/internal/services"
)

// FeedbackRequest uses pointers so missing required fields can be told
// apart from zero values.
type FeedbackRequest struct {
	QueryText string   `json:"query_text"`
	ImageID   *int64   `json:"image_id"`
	IsGood    *bool    `json:"is_good"`
	Score     *float64 `json:"score"`
}

type FeedbackHandler struct {
	recorder *services.FeedbackRecorder
}

func NewFeedbackHandler(r *services.FeedbackRecorder) *FeedbackHandler {
	return &FeedbackHandler{recorder: r}
}

// Create handles POST /feedbacks.
func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.ImageID == nil {
		writeDetail(w, http.StatusBadRequest, "image_id is required")
		return
	}
	if req.IsGood == nil {
		writeDetail(w, http.StatusBadRequest, "is_good is required")
		return
	}

	fb, err := h.recorder.Record(r.Context(), models.NewFeedback{
		QueryText: req.QueryText,
		ImageID:   *req.ImageID,
		IsGood:    *req.IsGood,
		Score:     req.Score,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

// List handles GET /feedbacks with an optional image_id filter.
func (h *FeedbackHandler) List(w http.ResponseWriter, r *http.Request) {
	var imageID *int64
	if raw := r.URL.Query().Get("image_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "image_id must be an integer")
			return
		}
		imageID = &id
	}

	items, err := h.recorder.List(r.Context(), imageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Feedback{}
	}
	writeJSON(w, http.StatusOK, items)
}
