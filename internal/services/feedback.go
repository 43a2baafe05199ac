package services

import (
	"context"
	"math"

	"imagesearch/internal/metrics"
	"imagesearch/internal/models"
	"imagesearch/internal/store"
)

// FeedbackRecorder stores relevance judgments on search results.
type FeedbackRecorder struct {
	store   store.Store
	metrics metrics.Recorder
}

func NewFeedbackRecorder(s store.Store, rec metrics.Recorder) *FeedbackRecorder {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &FeedbackRecorder{store: s, metrics: rec}
}

// Record fails with ErrImageNotFound when the image does not exist.
func (r *FeedbackRecorder) Record(ctx context.Context, fb models.NewFeedback) (models.Feedback, error) {
	if fb.Score != nil && (math.IsNaN(*fb.Score) || math.IsInf(*fb.Score, 0)) {
		return models.Feedback{}, invalidArgf("score must be finite")
	}
	out, err := r.store.InsertFeedback(ctx, fb)
	if err != nil {
		return models.Feedback{}, err
	}
	r.metrics.ObserveFeedback(out.IsGood)
	return out, nil
}

// List returns feedback oldest first, optionally for one image only.
func (r *FeedbackRecorder) List(ctx context.Context, imageID *int64) ([]models.Feedback, error) {
	return r.store.ListFeedback(ctx, imageID)
}
